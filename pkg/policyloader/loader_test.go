package policyloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/governance"
)

func newLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	engine, err := governance.NewPolicyEngine()
	require.NoError(t, err)
	l, err := NewLoader(dir, engine)
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const strictYAML = `
name: strict-finance
tenant: bank-1
version: 1.2.0
rules:
  minEvidenceRatio: 0.8
  maxRisk: low
  forbidTopics: [insider trading]
  expressions:
    grounded_only: classification == "GROUNDED"
`

func TestLoader_LoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)

	var reloaded *Bundle
	l.OnReload(func(b *Bundle) { reloaded = b })
	require.NoError(t, l.LoadFile(writeFile(t, dir, "strict.yaml", strictYAML)))

	b, ok := l.GetBundle("strict-finance")
	require.True(t, ok)
	assert.Same(t, b, reloaded)
	assert.Equal(t, "bank-1", b.Tenant)
	assert.Equal(t, "1.2.0", b.Version.Original())
	assert.True(t, b.Active)
	assert.Len(t, b.Hash, 64)

	assert.Equal(t, 0.8, b.Rules.MinEvidenceRatio)
	assert.Equal(t, 0.55, b.Rules.MinConfidence, "missing fields take defaults")
	assert.Equal(t, contracts.RiskLow, b.Rules.MaxRisk)
	assert.Equal(t, []string{"insider trading"}, b.Rules.ForbidTopics)
	assert.Equal(t, `classification == "GROUNDED"`, b.Rules.Expressions["grounded_only"])
}

func TestLoader_LoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"name":"a","version":"1.0.0","rules":{}}`)
	writeFile(t, dir, "b.yml", "name: b\nversion: 2.0.0\nrules: {minConfidence: 0.7}\n")
	writeFile(t, dir, "readme.txt", "ignore")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o755))

	l := newLoader(t, dir)
	require.NoError(t, l.LoadAll())

	all := l.AllBundles()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, AllTenants, all[0].Tenant)
	assert.Equal(t, governance.DefaultRules(), all[0].Rules)
	assert.Equal(t, 0.7, all[1].Rules.MinConfidence)
}

func TestLoader_LoadAllMissingDir(t *testing.T) {
	l := newLoader(t, filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, l.LoadAll())
}

func TestLoader_RejectsInvalidBundles(t *testing.T) {
	l := newLoader(t, t.TempDir())
	cases := map[string]struct {
		body string
		ext  string
	}{
		"malformed json":     {`{"name":`, ".json"},
		"missing version":    {`{"name":"x","rules":{}}`, ".json"},
		"unknown rule field": {`{"name":"x","version":"1.0.0","rules":{"maxRsik":"LOW"}}`, ".json"},
		"ratio out of range": {`{"name":"x","version":"1.0.0","rules":{"minEvidenceRatio":1.5}}`, ".json"},
		"bad risk tier":      {`{"name":"x","version":"1.0.0","rules":{"maxRisk":"EXTREME"}}`, ".json"},
		"bad semver":         {`{"name":"x","version":"one","rules":{}}`, ".json"},
		"bad condition":      {`{"name":"x","version":"1.0.0","rules":{"expressions":{"c":"confidence +"}}}`, ".json"},
		"non-bool condition": {`{"name":"x","version":"1.0.0","rules":{"expressions":{"c":"confidence"}}}`, ".json"},
		"bad yaml":           {"name: [x", ".yaml"},
		"empty yaml":         {"", ".yaml"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Parse([]byte(tc.body), tc.ext)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidBundle)
		})
	}
}

func TestLoader_ActivePolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "global.json", `{"name":"global","version":"1.0.0","rules":{"minConfidence":0.6}}`)
	writeFile(t, dir, "t1-old.json", `{"name":"t1-old","tenant":"t1","version":"1.9.0","rules":{"minConfidence":0.7}}`)
	writeFile(t, dir, "t1-new.json", `{"name":"t1-new","tenant":"t1","version":"1.10.0","rules":{"minConfidence":0.8}}`)
	writeFile(t, dir, "t1-off.json", `{"name":"t1-off","tenant":"t1","version":"9.0.0","active":false,"rules":{}}`)
	l := newLoader(t, dir)
	require.NoError(t, l.LoadAll())

	rec, err := l.ActivePolicy(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "t1-new", rec.Name, "semver order, not string order")
	assert.Equal(t, "bundle:t1-new@1.10.0", rec.ID)
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, 0.8, rec.Rules.MinConfidence)

	rec, err = l.ActivePolicy(context.Background(), "t2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "global", rec.Name)
	assert.Equal(t, "t2", rec.TenantID)

	empty := newLoader(t, t.TempDir())
	rec, err = empty.ActivePolicy(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

type stubSource struct {
	rec *contracts.PolicyRecord
	err error
}

func (s stubSource) ActivePolicy(context.Context, string) (*contracts.PolicyRecord, error) {
	return s.rec, s.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	first := &contracts.PolicyRecord{Name: "first"}
	second := &contracts.PolicyRecord{Name: "second"}

	rec, err := Chain{stubSource{}, nil, stubSource{rec: first}, stubSource{rec: second}}.ActivePolicy(ctx, "t1")
	require.NoError(t, err)
	assert.Same(t, first, rec)

	rec, err = Chain{stubSource{}}.ActivePolicy(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	boom := errors.New("db down")
	_, err = Chain{stubSource{err: boom}, stubSource{rec: first}}.ActivePolicy(ctx, "t1")
	assert.ErrorIs(t, err, boom)
}
