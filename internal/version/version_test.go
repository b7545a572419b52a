package version

import (
	"regexp"
	"testing"
)

func TestVersionIsSemver(t *testing.T) {
	semverRe := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	if !semverRe.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver string", Version)
	}
}

func TestDisplayVersion(t *testing.T) {
	oldGitRef, oldReleaseBuild := GitRef, ReleaseBuild
	t.Cleanup(func() {
		GitRef, ReleaseBuild = oldGitRef, oldReleaseBuild
	})

	cases := []struct {
		gitRef  string
		release string
		want    string
	}{
		{"abc1234", "false", "v" + Version + "-abc1234"},
		{"abc1234", "true", "v" + Version},
		{"", "no", "v" + Version + "-unknown"},
	}
	for _, tc := range cases {
		GitRef, ReleaseBuild = tc.gitRef, tc.release
		if got := DisplayVersion(); got != tc.want {
			t.Fatalf("DisplayVersion() with ref=%q release=%q = %q, want %q",
				tc.gitRef, tc.release, got, tc.want)
		}
	}
}
