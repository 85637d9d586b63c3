// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"

	"github.com/exedra-dev/xrgate/catalog/inmem"
	"github.com/exedra-dev/xrgate/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner   model.PrincipalRef = "owner"
	grantee model.PrincipalRef = "grantee"
)

type oracleFixture struct {
	store     *inmem.InMem
	oracle    *StoreOracle
	provider  model.Provider
	service   model.Service
	emptyProv model.Provider
}

// newOracleFixture seeds one provider with a single service plus a second,
// serviceless provider.
func newOracleFixture(t *testing.T) oracleFixture {
	t.Helper()
	ctx := context.Background()
	store := inmem.NewInMem()

	provider, err := store.UpsertProvider(ctx, model.Provider{Principal: owner})
	require.NoError(t, err)
	service, err := store.UpsertService(ctx, model.Service{
		Principal:   owner,
		ProviderID:  provider.ID,
		ServiceCode: "billing",
	})
	require.NoError(t, err)

	emptyProv, err := store.UpsertProvider(ctx, model.Provider{Principal: owner})
	require.NoError(t, err)

	return oracleFixture{
		store:     store,
		oracle:    NewStoreOracle(store),
		provider:  provider,
		service:   service,
		emptyProv: emptyProv,
	}
}

func TestServiceAccessDefaultsToDenied(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	ok, err := fx.oracle.CanViewProvider(ctx, grantee, fx.provider.ID)
	require.NoError(err)
	assert.False(ok)

	ok, err = fx.oracle.CanViewService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.False(ok)

	ok, err = fx.oracle.CanDownloadService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.False(ok)
}

func TestServiceLevelGrant(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	require.NoError(fx.store.UpsertServiceGrant(ctx, model.ServiceGrant{
		Grantee:    grantee,
		ProviderID: fx.provider.ID,
		ServiceID:  fx.service.ID,
		CanView:    true,
	}))

	ok, err := fx.oracle.CanViewService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.True(ok)

	// a granted service makes its provider visible too
	ok, err = fx.oracle.CanViewProvider(ctx, grantee, fx.provider.ID)
	require.NoError(err)
	assert.True(ok)

	// view does not imply download
	ok, err = fx.oracle.CanDownloadService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.False(ok)

	// nothing leaks to other principals
	ok, err = fx.oracle.CanViewService(ctx, "stranger", fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.False(ok)
}

func TestProviderWideGrant(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	require.NoError(fx.store.UpsertServiceGrant(ctx, model.ServiceGrant{
		Grantee:     grantee,
		ProviderID:  fx.provider.ID,
		CanView:     true,
		CanDownload: true,
	}))

	ok, err := fx.oracle.CanViewService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.True(ok)

	ok, err = fx.oracle.CanDownloadService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.True(ok)

	// the grant is scoped to one provider
	ok, err = fx.oracle.CanViewService(ctx, grantee, fx.emptyProv.ID, "other-service")
	require.NoError(err)
	assert.False(ok)
}

func TestBlanketGrant(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	require.NoError(fx.store.UpsertServiceGrant(ctx, model.ServiceGrant{
		Grantee: grantee,
		CanView: true,
	}))

	ok, err := fx.oracle.CanViewService(ctx, grantee, fx.provider.ID, fx.service.ID)
	require.NoError(err)
	assert.True(ok)

	ok, err = fx.oracle.CanViewProvider(ctx, grantee, fx.provider.ID)
	require.NoError(err)
	assert.True(ok)
}

func TestServicelessProviderNeverVisible(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	require.NoError(fx.store.UpsertServiceGrant(ctx, model.ServiceGrant{
		Grantee: grantee,
		CanView: true,
	}))

	ok, err := fx.oracle.CanViewProvider(ctx, grantee, fx.emptyProv.ID)
	require.NoError(err)
	assert.False(ok)
}

func TestFileAccessDefaultsToAllowed(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	// no rules at all: every filename passes
	ok, err := fx.oracle.CanViewFile(ctx, grantee, fx.service.ID, "report.pdf")
	require.NoError(err)
	assert.True(ok)

	ok, err = fx.oracle.CanDownloadFile(ctx, grantee, fx.service.ID, "report.pdf")
	require.NoError(err)
	assert.True(ok)
}

func TestFileRulesBecomeAllowList(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	require.NoError(fx.store.UpsertFileRule(ctx, model.FileRule{
		Grantee:   grantee,
		ServiceID: fx.service.ID,
		Filename:  "report.pdf",
		CanView:   true,
	}))

	ok, err := fx.oracle.CanViewFile(ctx, grantee, fx.service.ID, "report.pdf")
	require.NoError(err)
	assert.True(ok)

	// once any rule exists, unlisted filenames are denied
	ok, err = fx.oracle.CanViewFile(ctx, grantee, fx.service.ID, "secret.pdf")
	require.NoError(err)
	assert.False(ok)

	// the listed file grants view only
	ok, err = fx.oracle.CanDownloadFile(ctx, grantee, fx.service.ID, "report.pdf")
	require.NoError(err)
	assert.False(ok)

	// rules for one grantee never restrict another
	ok, err = fx.oracle.CanViewFile(ctx, "stranger", fx.service.ID, "secret.pdf")
	require.NoError(err)
	assert.True(ok)
}

func TestFileRulesAreScopedToService(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	fx := newOracleFixture(t)
	ctx := context.Background()

	require.NoError(fx.store.UpsertFileRule(ctx, model.FileRule{
		Grantee:   grantee,
		ServiceID: fx.service.ID,
		Filename:  "report.pdf",
		CanView:   true,
	}))

	ok, err := fx.oracle.CanViewFile(ctx, grantee, "another-service", "anything.txt")
	require.NoError(err)
	assert.True(ok)
}
