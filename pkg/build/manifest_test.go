package build

import (
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullManifest = `version: "1.0"
input:
  easy-installer:
    remote: "https://example.com/tezi.tar;sha256sum=${SUM}"
customization:
  splash-screen: splash.png
  filesystem:
    - changes1/
    - /abs/changes2
  device-tree:
    include-dirs: [device-trees/include]
    custom: device-trees/custom.dts
    overlays:
      clear: true
      add: [overlays/a.dts]
      remove: [b.dtbo]
  kernel:
    modules:
      - source-dir: hello-mod/
        autoload: $AUTOLOAD
    arguments: [key1=val1]
output:
  ostree:
    branch: ${BRANCH:-custom}
    commit-subject: "release ${VERSION}"
  easy-installer:
    local: out/${VERSION}
    name: "Custom image"
    autoinstall: false
    bundle:
      dir: bundle/
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(fullManifest), "/work/tcbuild.yaml", map[string]string{
		"SUM":      "0123",
		"AUTOLOAD": "true",
		"VERSION":  "1.2.3",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/tezi.tar;sha256sum=0123", m.Input.EasyInstaller.Remote)
	assert.Equal(t, "splash.png", m.Customization.SplashScreen)
	assert.Equal(t, []string{"changes1/", "/abs/changes2"}, m.Customization.Filesystem)
	require.NotNil(t, m.Customization.DeviceTree)
	assert.True(t, m.Customization.DeviceTree.Overlays.Clear)
	require.Len(t, m.Customization.Kernel.Modules, 1)
	assert.True(t, m.Customization.Kernel.Modules[0].Autoload, "a substituted plain value is typed again")
	assert.Equal(t, "custom", m.Output.OSTree.Branch)
	assert.Equal(t, "release 1.2.3", m.Output.OSTree.CommitSubject)
	out := m.Output.EasyInstaller
	require.NotNil(t, out)
	assert.Equal(t, "out/1.2.3", out.Local)
	require.NotNil(t, out.AutoInstall)
	assert.False(t, *out.AutoInstall)
	assert.Equal(t, "bundle/", out.Bundle.Dir)
	assert.Nil(t, m.Output.RawImage)

	assert.Equal(t, "/work/out/1.2.3", m.Path(out.Local))
	assert.Equal(t, "/abs/changes2", m.Path("/abs/changes2"))
	assert.Equal(t, "", m.Path(""))

	source, remote := m.inputSource()
	assert.True(t, remote)
	assert.Equal(t, "https://example.com/tezi.tar;sha256sum=0123", source)
}

func TestParseWithoutSubstitution(t *testing.T) {
	_, err := Parse([]byte(fullManifest), "tcbuild.yaml", nil)
	require.Error(t, err)
	violations := Violations(err)
	require.Len(t, violations, 1)
	assert.Equal(t, "customization.kernel.modules[0].autoload", violations[0].Path)
	assert.Equal(t, "must be a boolean", violations[0].Message)
	assert.Equal(t, 20, violations[0].Line)
}

func TestParseReportsAllViolations(t *testing.T) {
	const manifest = `input:
  easy-installer:
    local: image.tar
customization:
  splash-screen: splash.png
  kernel:
    modules:
      - autoload: yes-please
    argumentz: [a]
`
	_, err := Parse([]byte(manifest), "tcbuild.yaml", map[string]string{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifest))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	violations := Violations(err)
	require.Len(t, violations, 4)
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Error()
	}
	assert.Equal(t, []string{
		"tcbuild.yaml:8:19: customization.kernel.modules[0].autoload: must be a boolean",
		`tcbuild.yaml:8:9: customization.kernel.modules[0]: missing required property "source-dir"`,
		"tcbuild.yaml:9:5: customization.kernel.argumentz: unknown property",
		`tcbuild.yaml:1:1: missing required property "output"`,
	}, msgs)
}

func TestParseCrossChecks(t *testing.T) {
	const manifest = `input:
  easy-installer:
    toradex-feed:
      version: "6.4.0"
      release: monthly
      machine: verdin-imx8mp
      distro: torizon
      build-number: "12"
output:
  raw-image:
    local: out.wic
`
	_, err := Parse([]byte(manifest), "tcbuild.yaml", nil)
	require.Error(t, err)
	violations := Violations(err)
	require.Len(t, violations, 2)
	assert.Equal(t, "output.raw-image", violations[0].Path)
	assert.Equal(t, "requires an input.raw-image image", violations[0].Message)
	assert.Equal(t, "input.easy-installer.toradex-feed", violations[1].Path)
	assert.Equal(t, "build-date is required for monthly releases", violations[1].Message)
}

func TestParseRejects(t *testing.T) {
	for name, manifest := range map[string]string{
		"empty":           "",
		"not yaml":        "input: [",
		"two inputs":      "input:\n  easy-installer: {local: a}\n  raw-image: {local: b}\noutput:\n  raw-image: {local: c}\n",
		"no output image": "input:\n  easy-installer: {local: a}\noutput:\n  ostree: {branch: b}\n",
		"newer format":    "version: \"2.0\"\ninput:\n  easy-installer: {local: a}\noutput:\n  easy-installer: {local: b}\n",
		"bad release":     "input:\n  easy-installer:\n    toradex-feed: {version: 6.4.0, release: weekly, machine: m, distro: d, build-number: 1}\noutput:\n  easy-installer: {local: b}\n",
		"no feed":         "input:\n  easy-installer:\n    toradex-feed: {version: 4.0.0, release: quarterly, machine: m, distro: d, build-number: 1}\noutput:\n  easy-installer: {local: b}\n",
		"duplicate":       "input:\n  easy-installer: {local: a}\noutput:\n  easy-installer: {local: b}\n  easy-installer: {local: c}\n",
		"both bundles":    "input:\n  easy-installer: {local: a}\noutput:\n  easy-installer: {local: b, bundle: {dir: x, compose-file: y}}\n",
		"not a list":      "input:\n  easy-installer: {local: a}\ncustomization:\n  filesystem: changes\noutput:\n  easy-installer: {local: b}\n",
	} {
		_, err := Parse([]byte(manifest), "tcbuild.yaml", nil)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrManifest), name)
		assert.NotEmpty(t, Violations(err), name)
	}
}

func TestParseTemplate(t *testing.T) {
	m, err := Parse([]byte(Template), "tcbuild.yaml", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "output/torizon-core-custom", m.Output.EasyInstaller.Local)
}

func TestFeedURL(t *testing.T) {
	f := &Feed{Version: "6.4.0", Release: "quarterly", Machine: "verdin-imx8mp", Distro: "torizon", BuildNumber: "5"}
	url, name := f.URL()
	assert.Equal(t, "torizon-core-docker-verdin-imx8mp-Tezi_6.4.0+build.5.tar", name)
	assert.Equal(t, "https://artifacts.toradex.com/artifactory/torizoncore-oe-prod-frankfurt/kirkstone-6.x.y/release/5/verdin-imx8mp/torizon/torizon-core-docker/oedeploy/"+name, url)

	f = &Feed{Version: "7.0.0", Release: "nightly", Machine: "verdin-am62", Distro: "torizon-rt", BuildNumber: "210", BuildDate: "20240502"}
	url, name = f.URL()
	assert.Equal(t, "torizon-core-docker-rt-verdin-am62-Tezi_7.0.0-devel-20240502+build.210.tar", name)
	assert.Contains(t, url, "/torizoncore-oe-prerelease-frankfurt/scarthgap-7.x.y/nightly/210/")
}

func TestParseAssignments(t *testing.T) {
	vars, err := ParseAssignments([]string{"VERSION=1.2.3", "EMPTY=", "EQ=a=b", "VERSION=2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"VERSION": "2", "EMPTY": "", "EQ": "a=b"}, vars)

	for _, bad := range []string{"VERSION", "1X=2", "=v", "A-B=1"} {
		_, err := ParseAssignments([]string{bad})
		assert.True(t, errors.Is(err, ErrAssignment), bad)
		assert.Equal(t, errors.KindUsage, errors.KindOf(err), bad)
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"A": "alpha", "EMPTY": ""}
	for in, want := range map[string]string{
		"$A":              "alpha",
		"${A}-1":          "alpha-1",
		"${B:-beta}":      "beta",
		"${EMPTY:-dflt}":  "dflt",
		"${A:-unused}":    "alpha",
		"x${B}y":          "xy",
		"$$A":             "$A",
		"no variables":    "no variables",
		"${A}${A}":        "alphaalpha",
		"$1":              "$1",
		"cost: $$5 ${A}!": "cost: $5 alpha!",
	} {
		assert.Equal(t, want, Expand(in, vars), in)
	}
}
