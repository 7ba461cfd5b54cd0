package store

import (
	"context"
	"testing"

	"github.com/barriomed/clinic/internal/db"
	"github.com/barriomed/clinic/internal/model"
)

func TestGetJWTSecret_GeneratesAndPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	// First call should generate a secret.
	secret1, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if len(secret1) != 64 { // 32 bytes = 64 hex chars
		t.Fatalf("expected 64 hex chars, got %d", len(secret1))
	}

	// Second call should return the same secret.
	secret2, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if secret1 != secret2 {
		t.Fatalf("expected same secret, got %q and %q", secret1, secret2)
	}
}

func TestSetSettingOverwrites(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, ok, _ := GetSetting(ctx, database, "k"); ok {
		t.Fatal("expected missing setting")
	}
	if err := SetSetting(ctx, database, "k", "one"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := SetSetting(ctx, database, "k", "two"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	v, ok, err := GetSetting(ctx, database, "k")
	if err != nil || !ok || v != "two" {
		t.Errorf("GetSetting = %q, %v, %v; want \"two\", true, nil", v, ok, err)
	}
}

func TestRoleCachePerDevice(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	phone := &RoleCache{DB: database, Device: "phone-1"}
	tablet := &RoleCache{DB: database, Device: "tablet-1"}

	if _, ok, err := phone.LoadCachedRole(ctx); err != nil || ok {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}

	if err := phone.SaveCachedRole(ctx, model.RoleStaff); err != nil {
		t.Fatalf("SaveCachedRole: %v", err)
	}

	role, ok, err := phone.LoadCachedRole(ctx)
	if err != nil || !ok || role != model.RoleStaff {
		t.Errorf("LoadCachedRole = %q, %v, %v; want staff", role, ok, err)
	}

	if _, ok, _ := tablet.LoadCachedRole(ctx); ok {
		t.Error("expected other device to have no cached role")
	}
}

func TestRoleCacheIgnoresUnknownRole(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	cache := &RoleCache{DB: database}
	SetSetting(ctx, database, "cached_role", "janitor")

	if _, ok, err := cache.LoadCachedRole(ctx); err != nil || ok {
		t.Errorf("expected unknown cached role to be ignored, got ok=%v err=%v", ok, err)
	}
}
