package version

import "testing"

func TestFull(t *testing.T) {
	v, c, d, b := Version, Commit, Date, BuiltBy
	t.Cleanup(func() { Version, Commit, Date, BuiltBy = v, c, d, b })

	Version, Commit, Date, BuiltBy = "1.2.3", "abc123", "2026-01-02", ""
	if got, want := Full(), "glyphrec 1.2.3, commit abc123, built at 2026-01-02"; got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}

	BuiltBy = "goreleaser"
	if got, want := Full(), "glyphrec 1.2.3, commit abc123, built at 2026-01-02 by goreleaser"; got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}
