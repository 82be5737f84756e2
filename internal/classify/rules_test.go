package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"liberator/internal/config"
)

func TestTableExtractor(t *testing.T) {
	rule := tableRule(config.Default().Layout)
	cases := map[string]string{
		"CREATE TABLE users (id int)":                 "users",
		"create table if not exists public.posts ()":  "posts",
		`CREATE TABLE "public"."Order Items" (id int)`: "Order Items",
		"CREATE UNLOGGED TABLE cache_rows (k text)":    "cache_rows",
		"create temp table scratch (x int)":            "scratch",
	}
	for sql, want := range cases {
		got := rule.Extract("supabase/migrations/x.sql", []byte(sql))
		if assert.Len(t, got, 1, sql) {
			assert.Equal(t, want, got[0].Name, sql)
		}
	}
}

func TestPolicyExtractor(t *testing.T) {
	rule := policyRule(config.Default().Layout)
	got := rule.Extract("", []byte(`create policy "Users can read own rows" on public.profiles for select using (auth.uid() = id);
CREATE POLICY admins_only ON "audit" USING (false);`))
	if assert.Len(t, got, 2) {
		assert.Equal(t, "Users can read own rows", got[0].Name)
		assert.Equal(t, "profiles", got[0].Target)
		assert.Equal(t, "admins_only", got[1].Name)
		assert.Equal(t, "audit", got[1].Target)
	}
	a := rule.Build("m.sql", got[0])
	assert.Equal(t, "profiles: Users can read own rows", a.Name)
}

func TestMigrationMatcher(t *testing.T) {
	layout := config.Default().Layout
	layout.MigrationExts = []string{"sql", ".PGSQL"}
	match := migrationMatcher(layout)
	assert.True(t, match("supabase/migrations/1.sql"))
	assert.True(t, match("supabase/migrations/nested/2.pgsql"))
	assert.False(t, match("supabase/migrations/notes.txt"))
	assert.False(t, match("supabase/migrationsX/1.sql"))
}

func TestConfigReferenceExtractor(t *testing.T) {
	rule := configReferenceRule(config.Default().Layout)
	assert.True(t, rule.Match("supabase/config.toml"))
	got := rule.Extract("", []byte("[functions.alpha]\n  [functions.\"beta-2\"]\n[functions.alpha.env]\n[auth]\n"))
	if assert.Len(t, got, 2) {
		assert.Equal(t, "alpha", got[0].Name)
		assert.Equal(t, "beta-2", got[1].Name)
	}
}
