package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
)

type stubGrants struct {
	grants map[[2]uuid.UUID]enums.PermissionTier
	err    error
}

func (s stubGrants) FindGrant(ctx context.Context, accountID, userID uuid.UUID) (*models.PermissionGrant, error) {
	if s.err != nil {
		return nil, s.err
	}
	tier, ok := s.grants[[2]uuid.UUID{accountID, userID}]
	if !ok {
		return nil, nil
	}
	return &models.PermissionGrant{AccountID: accountID, UserID: userID, Tier: tier}, nil
}

func TestResolveTiers(t *testing.T) {
	account := uuid.New()
	owner, editor, viewer, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	grants := stubGrants{grants: map[[2]uuid.UUID]enums.PermissionTier{
		{account, owner}:  enums.PermissionTierOwner,
		{account, editor}: enums.PermissionTierEditor,
		{account, viewer}: enums.PermissionTierViewer,
	}}
	r, err := NewResolver(grants, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		user uuid.UUID
		want enums.PermissionTier
	}{
		{owner, enums.PermissionTierOwner},
		{editor, enums.PermissionTierEditor},
		{viewer, enums.PermissionTierViewer},
	}
	for _, tc := range tests {
		got, err := r.Resolve(ctx, tc.user, account)
		if err != nil || got != tc.want {
			t.Fatalf("Resolve = %s, %v; want %s", got, err, tc.want)
		}
	}

	tier, err := r.Resolve(ctx, stranger, account)
	if tier != enums.PermissionTierNone || !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("stranger should resolve to none/not found, got %s %v", tier, err)
	}
}

func TestRequireDistinguishesNotFoundFromForbidden(t *testing.T) {
	account := uuid.New()
	viewer, stranger := uuid.New(), uuid.New()
	r, _ := NewResolver(stubGrants{grants: map[[2]uuid.UUID]enums.PermissionTier{
		{account, viewer}: enums.PermissionTierViewer,
	}}, nil)
	ctx := context.Background()

	if err := r.Require(ctx, viewer, account, enums.PermissionTierViewer); err != nil {
		t.Fatalf("viewer should satisfy viewer: %v", err)
	}
	if err := r.Require(ctx, viewer, account, enums.PermissionTierEditor); !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for viewer->editor, got %v", err)
	}
	if err := r.Require(ctx, stranger, account, enums.PermissionTierViewer); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
}

func TestRequireIsMonotonic(t *testing.T) {
	account := uuid.New()
	users := map[enums.PermissionTier]uuid.UUID{}
	grants := stubGrants{grants: map[[2]uuid.UUID]enums.PermissionTier{}}
	for _, tier := range []enums.PermissionTier{enums.PermissionTierViewer, enums.PermissionTierEditor, enums.PermissionTierOwner} {
		id := uuid.New()
		users[tier] = id
		grants.grants[[2]uuid.UUID{account, id}] = tier
	}
	users[enums.PermissionTierNone] = uuid.New()

	r, _ := NewResolver(grants, nil)
	ctx := context.Background()
	order := []enums.PermissionTier{enums.PermissionTierViewer, enums.PermissionTierEditor, enums.PermissionTierOwner}

	for have, user := range users {
		failed := false
		for _, min := range order {
			err := r.Require(ctx, user, account, min)
			if failed && err == nil {
				t.Fatalf("%s passed %s after failing a lower tier", have, min)
			}
			if err != nil {
				failed = true
			}
		}
	}
}

func TestSystemAdminResolvesOwner(t *testing.T) {
	admin := uuid.New()
	r, err := NewResolver(stubGrants{}, []string{" " + admin.String() + " ", ""})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if !r.IsSystemAdmin(admin) {
		t.Fatal("expected admin to be recognized")
	}
	tier, err := r.Resolve(context.Background(), admin, uuid.New())
	if err != nil || tier != enums.PermissionTierOwner {
		t.Fatalf("expected owner for admin, got %s %v", tier, err)
	}
}

func TestNewResolverValidation(t *testing.T) {
	if _, err := NewResolver(nil, nil); err == nil {
		t.Fatal("expected error for nil grants")
	}
	if _, err := NewResolver(stubGrants{}, []string{"not-a-uuid"}); err == nil {
		t.Fatal("expected error for bad admin id")
	}
}

func TestResolveStoreFailureIsInternal(t *testing.T) {
	r, _ := NewResolver(stubGrants{err: errors.New("db down")}, nil)
	if _, err := r.Resolve(context.Background(), uuid.New(), uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), uuid.Nil, uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for nil actor, got %v", err)
	}
}

func TestRepositoryUpsertAndFind(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:grants_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.PermissionGrant{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := NewRepository(conn)
	ctx := context.Background()
	account, user := uuid.New(), uuid.New()

	grant, err := repo.FindGrant(ctx, account, user)
	if err != nil || grant != nil {
		t.Fatalf("expected no grant, got %+v %v", grant, err)
	}

	if err := repo.Upsert(ctx, account, user, enums.PermissionTierViewer); err != nil {
		t.Fatalf("upsert viewer: %v", err)
	}
	if err := repo.Upsert(ctx, account, user, enums.PermissionTierEditor); err != nil {
		t.Fatalf("upsert editor: %v", err)
	}
	grant, err = repo.FindGrant(ctx, account, user)
	if err != nil || grant == nil || grant.Tier != enums.PermissionTierEditor {
		t.Fatalf("expected editor grant, got %+v %v", grant, err)
	}

	if err := repo.Upsert(ctx, account, user, enums.PermissionTierNone); err == nil {
		t.Fatal("expected invalid tier to be rejected")
	}

	r, _ := NewResolver(repo, nil)
	if err := r.Require(ctx, user, account, enums.PermissionTierEditor); err != nil {
		t.Fatalf("require editor via repo: %v", err)
	}
}
