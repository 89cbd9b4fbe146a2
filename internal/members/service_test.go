package members_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/members"
	"github.com/hugh/org-console/internal/orgs"
	"github.com/hugh/org-console/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memberFixture struct {
	db         *gorm.DB
	service    *members.Service
	adminOrgID uuid.UUID
	owner      *models.User
	org        *models.Organization
}

func newMemberFixture(t *testing.T) *memberFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner := testutil.CreateTestUser(t, db)
	org := testutil.CreateTestOrg(t, db, owner)
	adminOrgID := uuid.New()

	service := members.NewService(db, access.NewChecker(db), audit.NewRecorder(logger), nil, logger, adminOrgID)

	return &memberFixture{
		db:         db,
		service:    service,
		adminOrgID: adminOrgID,
		owner:      owner,
		org:        org,
	}
}

func membershipCount(t *testing.T, db *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Membership{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestListMembers(t *testing.T) {
	f := newMemberFixture(t)
	ctx := testutil.TestContext(t)

	admin := testutil.CreateTestUser(t, f.db)
	testutil.CreateTestMembership(t, f.db, f.org, admin, models.RoleAdmin)
	member := testutil.CreateTestUser(t, f.db)
	testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)

	list, err := f.service.List(ctx, f.org.ID, member.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, models.RoleOwner, list[0].Role)
	assert.Equal(t, models.RoleAdmin, list[1].Role)
	assert.Equal(t, models.RoleMember, list[2].Role)

	outsider := testutil.CreateTestUser(t, f.db)
	_, err = f.service.List(ctx, f.org.ID, outsider.ID)
	assert.ErrorIs(t, err, access.ErrAccessDenied)
}

func TestRemoveMember(t *testing.T) {
	t.Run("removes a member who has other organizations", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		member := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestOrg(t, f.db, member) // their own org
		testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)

		created, err := f.service.Remove(ctx, f.org.ID, member.ID, f.owner.ID)
		require.NoError(t, err)
		assert.Nil(t, created, "no replacement org needed")
		assert.EqualValues(t, 1, membershipCount(t, f.db, member.ID))
	})

	t.Run("creates a personal org when removing the last membership", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		member := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)

		created, err := f.service.Remove(ctx, f.org.ID, member.ID, f.owner.ID)
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Equal(t, models.OrgStatusActive, created.Status)
		require.NotNil(t, created.OwnerID)
		assert.Equal(t, member.ID, *created.OwnerID)

		var membership models.Membership
		require.NoError(t, f.db.Where("organization_id = ? AND user_id = ?", created.ID, member.ID).
			First(&membership).Error)
		assert.Equal(t, models.RoleOwner, membership.Role)
		assert.EqualValues(t, 1, membershipCount(t, f.db, member.ID))
	})

	t.Run("rejects self removal", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		_, err := f.service.Remove(ctx, f.org.ID, f.owner.ID, f.owner.ID)
		assert.ErrorIs(t, err, members.ErrSelfRemoval)
	})

	t.Run("rejects removing the owner", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		admin := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, admin, models.RoleAdmin)

		_, err := f.service.Remove(ctx, f.org.ID, f.owner.ID, admin.ID)
		assert.ErrorIs(t, err, members.ErrCannotRemoveOwner)
	})

	t.Run("members cannot remove anyone", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		a := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, a, models.RoleMember)
		b := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, b, models.RoleMember)

		_, err := f.service.Remove(ctx, f.org.ID, b.ID, a.ID)
		assert.ErrorIs(t, err, access.ErrAccessDenied)
	})
}

func TestDeleteOrganization(t *testing.T) {
	t.Run("backfills members left with no organization", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		// Owner needs a second org to be allowed to delete this one.
		testutil.CreateTestOrg(t, f.db, f.owner)

		// soleMember has no other organization, multiMember does.
		soleMember := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, soleMember, models.RoleMember)
		multiMember := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestOrg(t, f.db, multiMember)
		testutil.CreateTestMembership(t, f.db, f.org, multiMember, models.RoleMember)

		created, err := f.service.DeleteOrganization(ctx, f.org.ID, f.owner.ID)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, soleMember.ID, created[0].UserID)

		assert.EqualValues(t, 1, membershipCount(t, f.db, soleMember.ID))
		assert.EqualValues(t, 1, membershipCount(t, f.db, multiMember.ID))

		// The org and its memberships are gone.
		err = f.db.First(&models.Organization{}, "id = ?", f.org.ID).Error
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		var remaining int64
		f.db.Model(&models.Membership{}).Where("organization_id = ?", f.org.ID).Count(&remaining)
		assert.Zero(t, remaining)
	})

	t.Run("rejects deleting the actor's only organization", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		_, err := f.service.DeleteOrganization(ctx, f.org.ID, f.owner.ID)
		assert.ErrorIs(t, err, members.ErrLastOrganization)
	})

	t.Run("only the owner can delete", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		admin := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, admin, models.RoleAdmin)
		testutil.CreateTestOrg(t, f.db, admin)

		_, err := f.service.DeleteOrganization(ctx, f.org.ID, admin.ID)
		assert.ErrorIs(t, err, access.ErrAccessDenied)
	})

	t.Run("the system organization is protected", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		adminOrg := &models.Organization{
			Base:       models.Base{ID: f.adminOrgID},
			Name:       "Platform",
			Status:     models.OrgStatusActive,
			MaxMembers: 5,
			OwnerID:    &f.owner.ID,
		}
		require.NoError(t, f.db.Create(adminOrg).Error)
		testutil.CreateTestMembership(t, f.db, adminOrg, f.owner, models.RoleOwner)

		_, err := f.service.DeleteOrganization(ctx, f.adminOrgID, f.owner.ID)
		assert.ErrorIs(t, err, orgs.ErrProtectedOrg)
	})
}

func TestTransferOwnership(t *testing.T) {
	t.Run("promotes an existing member and demotes the previous owner", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		member := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)

		require.NoError(t, f.service.TransferOwnership(ctx, f.org.ID, member.Email, f.owner.ID))

		var owners []models.Membership
		require.NoError(t, f.db.Where("organization_id = ? AND role = ?", f.org.ID, models.RoleOwner).
			Find(&owners).Error)
		require.Len(t, owners, 1, "exactly one owner after transfer")
		assert.Equal(t, member.ID, owners[0].UserID)

		var previous models.Membership
		require.NoError(t, f.db.Where("organization_id = ? AND user_id = ?", f.org.ID, f.owner.ID).
			First(&previous).Error)
		assert.Equal(t, models.RoleAdmin, previous.Role)

		var org models.Organization
		require.NoError(t, f.db.First(&org, "id = ?", f.org.ID).Error)
		require.NotNil(t, org.OwnerID)
		assert.Equal(t, member.ID, *org.OwnerID)
	})

	t.Run("adds a non-member directly as owner", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		outsider := testutil.CreateTestUser(t, f.db)

		require.NoError(t, f.service.TransferOwnership(ctx, f.org.ID, outsider.Email, f.owner.ID))

		var membership models.Membership
		require.NoError(t, f.db.Where("organization_id = ? AND user_id = ?", f.org.ID, outsider.ID).
			First(&membership).Error)
		assert.Equal(t, models.RoleOwner, membership.Role)
	})

	t.Run("transfer to the current owner keeps them owner", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		require.NoError(t, f.service.TransferOwnership(ctx, f.org.ID, f.owner.Email, f.owner.ID))

		var owners []models.Membership
		require.NoError(t, f.db.Where("organization_id = ? AND role = ?", f.org.ID, models.RoleOwner).
			Find(&owners).Error)
		require.Len(t, owners, 1)
		assert.Equal(t, f.owner.ID, owners[0].UserID)
	})

	t.Run("unknown email is rejected", func(t *testing.T) {
		f := newMemberFixture(t)
		ctx := testutil.TestContext(t)

		err := f.service.TransferOwnership(ctx, f.org.ID, "nobody@example.com", f.owner.ID)
		assert.ErrorIs(t, err, members.ErrUserNotFound)
	})
}
