package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// --- Mock implementations ---

type mockCreator struct {
	mu       sync.Mutex
	codes    map[string]promotion.Coupon
	invalid  map[string]bool
	failCode string
}

func newMockCreator() *mockCreator {
	return &mockCreator{codes: make(map[string]promotion.Coupon), invalid: make(map[string]bool)}
}

func (m *mockCreator) CreateCoupon(_ context.Context, c promotion.Coupon) (*promotion.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case c.Code == m.failCode:
		return nil, errors.New("connection reset")
	case m.invalid[c.Code]:
		return nil, &promotion.ValidationError{Violations: []promotion.Violation{{Field: "code", Message: "bad"}}}
	}
	if _, ok := m.codes[c.Code]; ok {
		return nil, errors.Wrap(promotion.ErrDuplicateCode, "coupon code")
	}
	m.codes[c.Code] = c
	return &c, nil
}

// --- Helpers ---

func writeGz(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func testImporter(svc couponCreator) *importer {
	return newImporter(svc, importConfig{
		tenantID:    "t1",
		promotionID: "p1",
		workers:     4,
		expected:    1000,
	}, zap.NewNop())
}

// --- Tests ---

func TestParseLine(t *testing.T) {
	tests := []struct {
		line   string
		want   entry
		wantOK bool
	}{
		{line: "save10", want: entry{code: "SAVE10"}, wantOK: true},
		{line: "  vip-1 , cust-7 ", want: entry{code: "VIP-1", customer: "cust-7"}, wantOK: true},
		{line: "", wantOK: false},
		{line: "# header", wantOK: false},
		{line: ",cust-1", wantOK: false},
		{line: strings.Repeat("A", maxCodeLen+1), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImport(t *testing.T) {
	first := writeGz(t, "# batch 1", "ALPHA", "BRAVO,cust-1", "shared")
	second := writeGz(t, "CHARLIE", "SHARED", "ALPHA")
	third := writeGz(t, "delta", "charlie")

	svc := newMockCreator()
	st, err := testImporter(svc).Import(context.Background(), []string{first, second, third})

	require.NoError(t, err)
	assert.EqualValues(t, 5, st.Created.Load())
	assert.EqualValues(t, 3, st.CrossFile.Load(), "ALPHA and SHARED from file 2, CHARLIE from file 3")
	assert.Zero(t, st.Existing.Load())

	assert.Len(t, svc.codes, 5)
	bravo := svc.codes["BRAVO"]
	assert.Equal(t, "cust-1", bravo.AssignedTo)
	assert.Equal(t, "t1", bravo.TenantID)
	assert.Equal(t, "p1", bravo.PromotionID)
}

func TestImport_CountsExistingAndInvalid(t *testing.T) {
	path := writeGz(t, "ONE", "ONE", "TWO", "BAD")

	svc := newMockCreator()
	svc.codes["TWO"] = promotion.Coupon{Code: "TWO"}
	svc.invalid["BAD"] = true

	st, err := testImporter(svc).Import(context.Background(), []string{path})

	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Created.Load())
	assert.EqualValues(t, 2, st.Existing.Load(), "repeated ONE and pre-existing TWO")
	assert.EqualValues(t, 1, st.Invalid.Load())
}

func TestImport_StoreErrorAborts(t *testing.T) {
	path := writeGz(t, "ONE", "BROKEN", "THREE")

	svc := newMockCreator()
	svc.failCode = "BROKEN"

	_, err := testImporter(svc).Import(context.Background(), []string{path})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create coupon BROKEN")
}

func TestImport_MissingFile(t *testing.T) {
	_, err := testImporter(newMockCreator()).Import(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "build bloom filters")
}

func TestImport_TooManyFiles(t *testing.T) {
	files := make([]string, maxFiles+1)

	_, err := testImporter(newMockCreator()).Import(context.Background(), files)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many files")
}
