package jurisdiction_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advogo/billingcore/pkg/jurisdiction"
)

func newResolver(t *testing.T, cfg jurisdiction.Config) *jurisdiction.Resolver {
	t.Helper()
	r, err := jurisdiction.NewResolver(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return r
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := newResolver(t, jurisdiction.Config{DefaultCode: "BR"})

	tests := []struct {
		name        string
		phone       string
		wantCode    jurisdiction.Code
		wantBackend jurisdiction.Backend
		wantCur     string
	}{
		{"brazil", "+5511987654321", jurisdiction.CodeBR, jurisdiction.BackendDocument, "BRL"},
		{"portugal", "+351911111111", jurisdiction.CodePT, jurisdiction.BackendRelational, "EUR"},
		{"spain", "+34600123456", jurisdiction.CodeES, jurisdiction.BackendRelational, "EUR"},
		{"formatted number", "+55 (11) 98765-4321", jurisdiction.CodeBR, jurisdiction.BackendDocument, "BRL"},
		{"missing plus", "351911111111", jurisdiction.CodePT, jurisdiction.BackendRelational, "EUR"},
		{"unknown prefix falls back", "+14155550100", jurisdiction.CodeBR, jurisdiction.BackendDocument, "BRL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := r.Resolve(tt.phone)
			assert.Equal(t, tt.wantCode, j.Code)
			assert.Equal(t, tt.wantBackend, j.Backend)
			assert.Equal(t, tt.wantCur, j.Currency)
		})
	}
}

func TestResolver_Overrides(t *testing.T) {
	t.Parallel()

	r := newResolver(t, jurisdiction.Config{
		DefaultCode: "BR",
		Overrides:   map[string]string{"+5511999999999": "PT"},
	})

	// Override beats the +55 prefix.
	assert.Equal(t, jurisdiction.CodePT, r.Resolve("+5511999999999").Code)
	// Other BR numbers are unaffected.
	assert.Equal(t, jurisdiction.CodeBR, r.Resolve("+5511999999998").Code)
}

func TestResolver_FallbackLogsWarning(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	r, err := jurisdiction.NewResolver(jurisdiction.Config{DefaultCode: "PT"}, log)
	require.NoError(t, err)

	j := r.Resolve("+4915112345678")
	assert.Equal(t, jurisdiction.CodePT, j.Code)
	assert.Contains(t, buf.String(), "default jurisdiction")
	// Only a truncated prefix is logged.
	assert.NotContains(t, buf.String(), "15112345678")
}

func TestNewResolver_Validation(t *testing.T) {
	t.Parallel()

	_, err := jurisdiction.NewResolver(jurisdiction.Config{DefaultCode: "US"}, nil)
	assert.ErrorIs(t, err, jurisdiction.ErrUnknownDefaultCode)

	_, err = jurisdiction.NewResolver(jurisdiction.Config{
		DefaultCode: "BR",
		Overrides:   map[string]string{"+5511999999999": "XX"},
	}, nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "+5511987654321", jurisdiction.Normalize("+55 (11) 98765-4321"))
	assert.Equal(t, "+351911111111", jurisdiction.Normalize("351 911 111 111"))
	assert.Equal(t, "", jurisdiction.Normalize("abc"))
}
