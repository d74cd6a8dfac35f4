package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testMapping = Mapping{
	OS:   map[string]string{"linux": "linux", "darwin": "osx", "windows": "windows"},
	Arch: map[string]string{"amd64": "64", "386": "32"},
}

func TestResolve(t *testing.T) {
	natives := map[string]string{
		"linux":   "natives-linux",
		"osx":     "natives-osx",
		"windows": "natives-windows-${arch}",
	}
	cases := []struct {
		target Target
		want   string
		ok     bool
	}{
		{target: Target{OS: "linux", Arch: "amd64"}, want: "natives-linux", ok: true},
		{target: Target{OS: "darwin", Arch: "arm64"}, want: "natives-osx", ok: true},
		{target: Target{OS: "windows", Arch: "amd64"}, want: "natives-windows-64", ok: true},
		{target: Target{OS: "windows", Arch: "386"}, want: "natives-windows-32", ok: true},
		{target: Target{OS: "windows", Arch: "arm64"}, want: "natives-windows-arm64", ok: true},
		{target: Target{OS: "freebsd", Arch: "amd64"}},
	}
	for _, tc := range cases {
		t.Run(tc.target.String(), func(t *testing.T) {
			got, ok := Resolve(natives, tc.target, testMapping)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveEmptyTemplate(t *testing.T) {
	_, ok := Resolve(map[string]string{"linux": " "}, Target{OS: "linux", Arch: "amd64"}, testMapping)
	require.False(t, ok)
}

func TestTranslateUnmapped(t *testing.T) {
	osName, arch := Mapping{}.Translate(Target{OS: "plan9", Arch: "mips"})
	require.Equal(t, "plan9", osName)
	require.Equal(t, "mips", arch)
}
