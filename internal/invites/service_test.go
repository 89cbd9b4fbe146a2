package invites_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/mailer"
	"github.com/hugh/org-console/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type inviteFixture struct {
	db         *gorm.DB
	service    *invites.Service
	mail       *testutil.FakeMailer
	adminOrgID uuid.UUID
	owner      *models.User
	org        *models.Organization
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mail := &testutil.FakeMailer{}
	links := mailer.NewLinkBuilder("http://localhost:3000", "en")

	owner := testutil.CreateTestUser(t, db)
	org := testutil.CreateTestOrg(t, db, owner)

	adminOrgID := uuid.New()

	service := invites.NewService(db, access.NewChecker(db), audit.NewRecorder(logger), mail, links, logger, adminOrgID)

	return &inviteFixture{
		db:         db,
		service:    service,
		mail:       mail,
		adminOrgID: adminOrgID,
		owner:      owner,
		org:        org,
	}
}

func TestSendInvite(t *testing.T) {
	t.Run("creates pending invite and sends mail", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		invite, err := f.service.Send(ctx, f.org.ID, "new@example.com", f.owner.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.InviteStatusPending, invite.Status)
		assert.Equal(t, models.RoleMember, invite.Role)
		assert.NotEmpty(t, invite.Token)
		assert.Equal(t, 1, f.mail.SentTo("new@example.com"))
	})

	t.Run("rejects duplicate pending invite", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		_, err := f.service.Send(ctx, f.org.ID, "dup@example.com", f.owner.ID, "")
		require.NoError(t, err)

		_, err = f.service.Send(ctx, f.org.ID, "dup@example.com", f.owner.ID, "")
		assert.ErrorIs(t, err, invites.ErrPendingInviteExists)
	})

	t.Run("rejects existing member", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		member := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)

		_, err := f.service.Send(ctx, f.org.ID, member.Email, f.owner.ID, "")
		assert.ErrorIs(t, err, invites.ErrAlreadyMember)
	})

	t.Run("requires admin role", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		member := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)

		_, err := f.service.Send(ctx, f.org.ID, "someone@example.com", member.ID, "")
		assert.ErrorIs(t, err, access.ErrAccessDenied)
	})

	t.Run("rejects invalid role", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		_, err := f.service.Send(ctx, f.org.ID, "x@example.com", f.owner.ID, "owner")
		assert.ErrorIs(t, err, invites.ErrInvalidRole)
	})

	t.Run("enforces member limit counting pending invites", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		require.NoError(t, f.db.Model(f.org).Update("max_members", 2).Error)

		_, err := f.service.Send(ctx, f.org.ID, "fits@example.com", f.owner.ID, "")
		require.NoError(t, err)

		// 1 member + 1 pending = limit reached
		_, err = f.service.Send(ctx, f.org.ID, "overflow@example.com", f.owner.ID, "")
		assert.ErrorIs(t, err, invites.ErrMemberLimit)
	})

	t.Run("rolls back the invite when mail delivery fails", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		f.mail.SendErr = mailer.ErrSendFailed

		_, err := f.service.Send(ctx, f.org.ID, "fail@example.com", f.owner.ID, "")
		require.Error(t, err)

		var count int64
		f.db.Model(&models.Invite{}).Where("email = ?", "fail@example.com").Count(&count)
		assert.Zero(t, count, "failed send must leave no pending invite row")
	})
}

func TestFindValid(t *testing.T) {
	t.Run("returns a live invite", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "live@example.com")

		found, err := f.service.FindValid(ctx, created.Token, "live@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("lazily expires and is idempotent", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "old@example.com")
		require.NoError(t, f.db.Model(created).Update("expires_at", time.Now().Add(-time.Hour)).Error)

		_, err := f.service.FindValid(ctx, created.Token, "old@example.com")
		assert.ErrorIs(t, err, invites.ErrInviteNotFound)

		var reloaded models.Invite
		require.NoError(t, f.db.First(&reloaded, "id = ?", created.ID).Error)
		assert.Equal(t, models.InviteStatusExpired, reloaded.Status)

		// A second lookup must not change anything further.
		_, err = f.service.FindValid(ctx, created.Token, "old@example.com")
		assert.ErrorIs(t, err, invites.ErrInviteNotFound)
	})

	t.Run("does not match the wrong email", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "right@example.com")

		_, err := f.service.FindValid(ctx, created.Token, "wrong@example.com")
		assert.ErrorIs(t, err, invites.ErrInviteNotFound)
	})
}

func TestAcceptInvite(t *testing.T) {
	t.Run("adds the user as a member and marks the invite accepted", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		invitee := testutil.CreateTestUser(t, f.db)
		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, invitee.Email)

		accepted, err := f.service.Accept(ctx, created.ID, invitee.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InviteStatusAccepted, accepted.Status)
		require.NotNil(t, accepted.AcceptedAt)

		var membership models.Membership
		err = f.db.Where("organization_id = ? AND user_id = ?", f.org.ID, invitee.ID).
			First(&membership).Error
		require.NoError(t, err)
		assert.Equal(t, models.RoleMember, membership.Role)
	})

	t.Run("accepting twice fails and the invite stays accepted", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		invitee := testutil.CreateTestUser(t, f.db)
		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, invitee.Email)

		_, err := f.service.Accept(ctx, created.ID, invitee.ID)
		require.NoError(t, err)

		_, err = f.service.Accept(ctx, created.ID, invitee.ID)
		assert.ErrorIs(t, err, invites.ErrInviteNotPending)

		var reloaded models.Invite
		require.NoError(t, f.db.First(&reloaded, "id = ?", created.ID).Error)
		assert.Equal(t, models.InviteStatusAccepted, reloaded.Status)
	})

	t.Run("rejects acceptance by an existing member", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		member := testutil.CreateTestUser(t, f.db)
		testutil.CreateTestMembership(t, f.db, f.org, member, models.RoleMember)
		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, member.Email)

		_, err := f.service.Accept(ctx, created.ID, member.ID)
		assert.ErrorIs(t, err, invites.ErrAlreadyMember)
	})

	t.Run("expired invite cannot be accepted", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		invitee := testutil.CreateTestUser(t, f.db)
		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, invitee.Email)
		require.NoError(t, f.db.Model(created).Update("expires_at", time.Now().Add(-time.Minute)).Error)

		_, err := f.service.Accept(ctx, created.ID, invitee.ID)
		assert.ErrorIs(t, err, invites.ErrInviteNotPending)
	})
}

func TestResendInvite(t *testing.T) {
	t.Run("refreshes token and expiry", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "resend@example.com")
		oldToken := created.Token
		require.NoError(t, f.db.Model(created).Update("expires_at", time.Now().Add(time.Hour)).Error)

		resent, err := f.service.Resend(ctx, created.ID, f.owner.ID)
		require.NoError(t, err)
		assert.NotEqual(t, oldToken, resent.Token)
		assert.Equal(t, models.InviteStatusPending, resent.Status)
		assert.True(t, resent.ExpiresAt.After(time.Now().Add(29*24*time.Hour)))
		assert.Equal(t, 1, f.mail.SentTo("resend@example.com"))
	})

	t.Run("rejects non-pending invites", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "gone@example.com")
		require.NoError(t, f.db.Model(created).Update("status", models.InviteStatusAccepted).Error)

		_, err := f.service.Resend(ctx, created.ID, f.owner.ID)
		assert.ErrorIs(t, err, invites.ErrInviteNotPending)
	})
}

func TestCancelInvite(t *testing.T) {
	t.Run("expires a pending invite", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "cancel@example.com")

		require.NoError(t, f.service.Cancel(ctx, created.ID, f.owner.ID))

		var reloaded models.Invite
		require.NoError(t, f.db.First(&reloaded, "id = ?", created.ID).Error)
		assert.Equal(t, models.InviteStatusExpired, reloaded.Status)
	})

	t.Run("cancelling an expired invite deletes the row", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "twice@example.com")

		require.NoError(t, f.service.Cancel(ctx, created.ID, f.owner.ID))
		require.NoError(t, f.service.Cancel(ctx, created.ID, f.owner.ID))

		err := f.db.Unscoped().First(&models.Invite{}, "id = ?", created.ID).Error
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound), "second cancel must hard-delete the row")
	})

	t.Run("accepted invites cannot be cancelled", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		created := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "done@example.com")
		require.NoError(t, f.db.Model(created).Update("status", models.InviteStatusAccepted).Error)

		err := f.service.Cancel(ctx, created.ID, f.owner.ID)
		assert.ErrorIs(t, err, invites.ErrInviteAccepted)
	})
}

func TestBootstrapOrg(t *testing.T) {
	// platformAdmin seeds the admin org and a member of it.
	platformAdmin := func(t *testing.T, f *inviteFixture) *models.User {
		t.Helper()
		adminUser := testutil.CreateTestUser(t, f.db)
		adminOrg := &models.Organization{
			Base:       models.Base{ID: f.adminOrgID},
			Name:       "Platform",
			Status:     models.OrgStatusActive,
			MaxMembers: 5,
			OwnerID:    &adminUser.ID,
		}
		require.NoError(t, f.db.Create(adminOrg).Error)
		testutil.CreateTestMembership(t, f.db, adminOrg, adminUser, models.RoleOwner)
		return adminUser
	}

	t.Run("first acceptance takes ownership and activates the org", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)
		admin := platformAdmin(t, f)

		org, err := f.service.CreateBootstrapOrg(ctx, admin.ID, "Acme", []string{"a@example.com", "b@example.com"})
		require.NoError(t, err)
		assert.Equal(t, models.OrgStatusPendingVerification, org.Status)
		assert.Nil(t, org.OwnerID)

		var orgInvites []models.Invite
		require.NoError(t, f.db.Where("organization_id = ?", org.ID).Find(&orgInvites).Error)
		require.Len(t, orgInvites, 2)

		first := testutil.CreateTestUser(t, f.db)
		require.NoError(t, f.db.Model(first).Update("email", "a@example.com").Error)
		first.Email = "a@example.com"

		var inviteA models.Invite
		require.NoError(t, f.db.Where("organization_id = ? AND email = ?", org.ID, "a@example.com").First(&inviteA).Error)

		_, err = f.service.Accept(ctx, inviteA.ID, first.ID)
		require.NoError(t, err)

		var reloaded models.Organization
		require.NoError(t, f.db.First(&reloaded, "id = ?", org.ID).Error)
		assert.Equal(t, models.OrgStatusActive, reloaded.Status)
		require.NotNil(t, reloaded.OwnerID)
		assert.Equal(t, first.ID, *reloaded.OwnerID)

		var membership models.Membership
		require.NoError(t, f.db.Where("organization_id = ? AND user_id = ?", org.ID, first.ID).First(&membership).Error)
		assert.Equal(t, models.RoleOwner, membership.Role)

		// Second acceptance joins as a plain member.
		second := testutil.CreateTestUser(t, f.db)
		require.NoError(t, f.db.Model(second).Update("email", "b@example.com").Error)
		second.Email = "b@example.com"

		var inviteB models.Invite
		require.NoError(t, f.db.Where("organization_id = ? AND email = ?", org.ID, "b@example.com").First(&inviteB).Error)

		_, err = f.service.Accept(ctx, inviteB.ID, second.ID)
		require.NoError(t, err)

		membership = models.Membership{} // reset so the first lookup's primary key is not added to the query
		require.NoError(t, f.db.Where("organization_id = ? AND user_id = ?", org.ID, second.ID).First(&membership).Error)
		assert.Equal(t, models.RoleMember, membership.Role)
	})

	t.Run("rejects non platform admins", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)

		_, err := f.service.CreateBootstrapOrg(ctx, f.owner.ID, "Acme", []string{"a@example.com"})
		assert.ErrorIs(t, err, access.ErrAccessDenied)
	})

	t.Run("deduplicates and validates emails", func(t *testing.T) {
		f := newInviteFixture(t)
		ctx := testutil.TestContext(t)
		admin := platformAdmin(t, f)

		org, err := f.service.CreateBootstrapOrg(ctx, admin.ID, "Acme", []string{"a@example.com", "A@Example.com "})
		require.NoError(t, err)

		var count int64
		f.db.Model(&models.Invite{}).Where("organization_id = ?", org.ID).Count(&count)
		assert.EqualValues(t, 1, count)

		_, err = f.service.CreateBootstrapOrg(ctx, admin.ID, "Bad", []string{"not-an-email"})
		assert.ErrorIs(t, err, invites.ErrInvalidEmail)
	})
}

func TestSweep(t *testing.T) {
	f := newInviteFixture(t)
	ctx := testutil.TestContext(t)

	stale := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "stale@example.com")
	require.NoError(t, f.db.Model(stale).Update("expires_at", time.Now().Add(-time.Hour)).Error)
	fresh := testutil.CreateTestInvite(t, f.db, f.org, f.owner, "fresh@example.com")

	n, err := invites.Sweep(ctx, f.db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var reloaded models.Invite
	require.NoError(t, f.db.First(&reloaded, "id = ?", stale.ID).Error)
	assert.Equal(t, models.InviteStatusExpired, reloaded.Status)
	reloaded = models.Invite{} // reset so the stale primary key is not added to the next query
	require.NoError(t, f.db.First(&reloaded, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.InviteStatusPending, reloaded.Status)

	// Sweeping again touches nothing.
	n, err = invites.Sweep(ctx, f.db)
	require.NoError(t, err)
	assert.Zero(t, n)
}
