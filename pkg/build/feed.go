package build

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
	"gopkg.in/yaml.v3"
)

const (
	feedURLPrefix  = "https://artifacts.toradex.com/artifactory/"
	defaultVariant = "torizon-core-docker"
)

var (
	feedProducts = map[string]string{
		"nightly":   "torizoncore-oe-prerelease-frankfurt",
		"monthly":   "torizoncore-oe-prerelease-frankfurt",
		"quarterly": "torizoncore-oe-prod-frankfurt",
	}
	feedBuildTypes = map[string]string{
		"nightly":   "nightly",
		"monthly":   "monthly",
		"quarterly": "release",
	}
	feedYocto = map[uint64]string{
		5: "dunfell-5.x.y",
		6: "kirkstone-6.x.y",
		7: "scarthgap-7.x.y",
	}
)

func feedVersion(n *yaml.Node) string {
	v, err := semver.Parse(n.Value)
	if err != nil {
		return fmt.Sprintf("%q must be a major.minor.patch version", n.Value)
	}
	if _, ok := feedYocto[v.Major]; !ok {
		return fmt.Sprintf("no feed for major version %d", v.Major)
	}
	return ""
}

// URL of an image published on the Toradex feed, and its file name
func (f *Feed) URL() (string, string) {
	v := semver.MustParse(f.Version)
	variant := f.Variant
	if variant == "" {
		variant = defaultVariant
	}
	rt := ""
	if strings.HasSuffix(f.Distro, "-rt") {
		rt = "-rt"
	}
	devel, date := "-devel-", f.BuildDate
	if f.Release == "quarterly" {
		devel, date = "", ""
	}
	name := fmt.Sprintf("%s%s-%s-Tezi_%s%s%s+build.%s.tar", variant, rt, f.Machine, f.Version, devel, date, f.BuildNumber)
	url := feedURLPrefix + strings.Join([]string{
		feedProducts[f.Release],
		feedYocto[v.Major],
		feedBuildTypes[f.Release],
		f.BuildNumber,
		f.Machine,
		f.Distro,
		variant,
		"oedeploy",
		name,
	}, "/")
	return url, name
}
