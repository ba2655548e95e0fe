package build

import (
	"os"

	"github.com/spf13/afero"
)

// Template is a commented manifest to start from
const Template = `# Build manifest. Variables like ${VERSION} or ${VERSION:-1.0} are replaced by the
# values given with --set, unless --no-subst is used.
version: "1.0"

input:
  easy-installer:
    local: images/torizon-core-docker-verdin-imx8mp-Tezi_6.4.0+build.5.tar
    # remote: "https://example.com/torizon.tar;sha256sum=<hex>"
    # toradex-feed:
    #   version: "6.4.0"
    #   release: quarterly
    #   machine: verdin-imx8mp
    #   distro: torizon
    #   variant: torizon-core-docker
    #   build-number: "5"

# customization:
#   splash-screen: splash.png
#   filesystem:
#     - changes/
#   device-tree:
#     include-dirs:
#       - device-trees/include/
#     custom: device-trees/dts-arm64/custom.dts
#     overlays:
#       clear: false
#       add:
#         - device-trees/overlays/custom-overlay.dts
#   kernel:
#     modules:
#       - source-dir: hello-mod/
#         autoload: false
#     arguments:
#       - key1=val1

output:
  # ostree:
  #   branch: my-dev-branch
  #   commit-subject: "${VERSION:-custom} image"
  easy-installer:
    local: output/torizon-core-custom
    # name: "My customized image"
    # description: "My customized image (description)"
    # licence: files/custom-licence.html
    # release-notes: files/custom-release-notes.html
    # autoinstall: false
    # autoreboot: false
    # bundle:
    #   compose-file: docker-compose.yml
`

// WriteTemplate writes the manifest template, refusing to replace an existing file
func WriteTemplate(fs afero.Fs, name string) error {
	f, err := fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(Template); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
