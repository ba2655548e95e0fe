package ostree

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultOS is the operating system name of TorizonCore deployments
const DefaultOS = "torizon"

// Paths within a system root
const (
	RepoDir    = "ostree/repo"
	DeployDir  = "ostree/deploy"
	bootDir    = "boot"
	BootScript = "boot.scr"
	HomeDirs   = "rootdirs"
)

// deployments of a system root being built stay mutable, or it could not be removed
var mutableDeployments = []string{"OSTREE_SYSROOT_DEBUG=mutable-deployments"}

var deploymentRe = regexp.MustCompile(`^([0-9a-f]{64})\.([0-9]+)$`)

// Deployment is a commit checked out in a system root
type Deployment struct {
	OS       string
	Checksum string
	Serial   int

	// Kargs are the kernel arguments of its boot loader entry, without the ostree= argument
	Kargs string
}

// Dir of the checkout, relative to the system root
func (d Deployment) Dir() string {
	return path.Join(DeployDir, d.OS, "deploy", d.Checksum+"."+strconv.Itoa(d.Serial))
}

// VarDir is the persistent /var of an operating system, relative to the system root
func VarDir(osName string) string {
	return path.Join(DeployDir, osName, "var")
}

// FindDeployment reads the deployment of the system root at dir. When several deployments
// are present, the one the default boot loader entry points at is returned.
func FindDeployment(fs afero.Fs, dir string) (Deployment, error) {
	var found []Deployment
	osDirs, err := afero.ReadDir(fs, filepath.Join(dir, filepath.FromSlash(DeployDir)))
	if err != nil {
		return Deployment{}, ErrNoDeployment.WrapMessage("%s", dir).Wrap(err)
	}
	for _, osDir := range osDirs {
		if !osDir.IsDir() {
			continue
		}
		entries, err := afero.ReadDir(fs, filepath.Join(dir, filepath.FromSlash(DeployDir), osDir.Name(), "deploy"))
		if err != nil {
			continue
		}
		for _, fi := range entries {
			m := deploymentRe.FindStringSubmatch(fi.Name())
			if m == nil || !fi.IsDir() {
				continue
			}
			serial, _ := strconv.Atoi(m[2])
			found = append(found, Deployment{OS: osDir.Name(), Checksum: m[1], Serial: serial})
		}
	}
	if len(found) == 0 {
		return Deployment{}, ErrNoDeployment.WrapMessage("%s", dir)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Checksum != found[j].Checksum {
			return found[i].Checksum < found[j].Checksum
		}
		return found[i].Serial < found[j].Serial
	})

	entries, err := bootEntries(fs, dir)
	if err != nil {
		return Deployment{}, err
	}
	if len(found) == 1 {
		d := found[0]
		if len(entries) > 0 {
			d.Kargs = entries[0].kargs
		}
		return d, nil
	}
	for _, e := range entries {
		for _, d := range found {
			if target := e.target(fs, dir); target != "" && strings.HasSuffix(target, path.Base(d.Dir())) {
				d.Kargs = e.kargs
				return d, nil
			}
		}
	}
	return Deployment{}, ErrNoDeployment.WrapMessage("%s holds %d deployments and no boot entry tells which one is in use", dir, len(found))
}

type bootEntry struct {
	version   int
	kargs     string
	ostreeArg string
}

// target resolves the boot symlink named by the ostree= argument
func (e bootEntry) target(fs afero.Fs, dir string) string {
	reader, ok := fs.(afero.LinkReader)
	if !ok || e.ostreeArg == "" {
		return ""
	}
	link := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(e.ostreeArg, "/")))
	target, err := reader.ReadlinkIfPossible(link)
	if err != nil {
		return ""
	}
	return target
}

// bootEntries parses the boot loader entries, the default one first
func bootEntries(fs afero.Fs, dir string) ([]bootEntry, error) {
	var entriesDir string
	for _, candidate := range []string{"loader", "loader.0", "loader.1"} {
		p := filepath.Join(dir, bootDir, candidate, "entries")
		if ok, _ := afero.DirExists(fs, p); ok {
			entriesDir = p
			break
		}
	}
	if entriesDir == "" {
		return nil, nil
	}
	names, err := afero.Glob(fs, filepath.Join(entriesDir, "*.conf"))
	if err != nil {
		return nil, err
	}
	var entries []bootEntry
	for _, name := range names {
		e, err := parseBootEntry(fs, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].version > entries[j].version })
	return entries, nil
}

func parseBootEntry(fs afero.Fs, name string) (bootEntry, error) {
	var e bootEntry
	f, err := fs.Open(name)
	if err != nil {
		return e, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		value = strings.TrimSpace(value)
		switch key {
		case "version":
			e.version, _ = strconv.Atoi(value)
		case "options":
			var kargs []string
			for _, arg := range strings.Fields(value) {
				if strings.HasPrefix(arg, "ostree=") {
					e.ostreeArg = strings.TrimPrefix(arg, "ostree=")
					continue
				}
				kargs = append(kargs, arg)
			}
			e.kargs = strings.Join(kargs, " ")
		}
	}
	return e, scanner.Err()
}

// Sysroot is an OSTree system root being built
type Sysroot struct {
	path string
	run  Runner
}

// NewSysroot at path
func NewSysroot(path string, run Runner) *Sysroot {
	return &Sysroot{path: path, run: run}
}

// Path of the system root
func (s *Sysroot) Path() string {
	return s.path
}

// Repo of the system root
func (s *Sysroot) Repo() *Repo {
	return NewRepo(filepath.Join(s.path, filepath.FromSlash(RepoDir)), s.run)
}

// Init lays out an empty system root for an operating system
func (s *Sysroot) Init(ctx context.Context, osName string) error {
	if err := s.run.Run(ctx, Cmd{Name: "ostree", Args: []string{"admin", "init-fs", s.path}}); err != nil {
		return err
	}
	return s.run.Run(ctx, Cmd{Name: "ostree", Args: []string{"admin", "os-init", "--sysroot=" + s.path, osName}})
}

// PrepareUBoot makes the boot loader configuration of the next deployment a U-Boot environment
func (s *Sysroot) PrepareUBoot(fs afero.Fs) error {
	boot := filepath.Join(s.path, bootDir)
	if err := fs.MkdirAll(filepath.Join(boot, "loader.1"), 0755); err != nil {
		return err
	}
	linker, ok := fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("%s: filesystem cannot create symbolic links", boot)
	}
	if err := linker.SymlinkIfPossible("loader.1", filepath.Join(boot, "loader")); err != nil {
		return err
	}
	return afero.WriteFile(fs, filepath.Join(boot, "loader.1", "uEnv.txt"), nil, 0644)
}

// Deploy checks out a commit of the system root repository and writes its boot loader entry
func (s *Sysroot) Deploy(ctx context.Context, osName, csum, kargs string) error {
	args := []string{"admin", "deploy", "--sysroot=" + s.path, "--os=" + osName}
	for _, arg := range strings.Fields(kargs) {
		args = append(args, "--karg="+arg)
	}
	return s.run.Run(ctx, Cmd{Name: "ostree", Args: append(args, csum), Env: mutableDeployments})
}

// CopyUnmanaged copies what OSTree does not manage from another system root: the home
// directories kept under /var and the boot script
func (s *Sysroot) CopyUnmanaged(ctx context.Context, fs afero.Fs, src, osName string) error {
	for _, c := range []struct{ src, dst string }{
		{filepath.Join(src, filepath.FromSlash(VarDir(osName)), HomeDirs), filepath.Join(s.path, filepath.FromSlash(VarDir(osName)))},
		{filepath.Join(src, BootScript), s.path},
	} {
		if _, err := fs.Stat(c.src); os.IsNotExist(err) {
			continue
		}
		if err := s.run.Run(ctx, Cmd{Name: "cp", Args: []string{"-a", "-t", c.dst, c.src}}); err != nil {
			return err
		}
	}
	return nil
}

var tarXattrs = []string{"--xattrs", "--xattrs-include=*", "--numeric-owner"}

// Extract unpacks a tar stream of a system root into dir, keeping ownership, permissions
// and extended attributes
func Extract(ctx context.Context, run Runner, r io.Reader, dir string) error {
	args := append(append([]string{}, tarXattrs...), "-xpf", "-", "-C", dir)
	return run.Run(ctx, Cmd{Name: "tar", Args: args, Stdin: r})
}

// Pack writes the system root at dir as a tar stream
func Pack(ctx context.Context, run Runner, dir string, w io.Writer) error {
	args := append(append([]string{}, tarXattrs...), "-cSpf", "-", "-C", dir, ".")
	return run.Run(ctx, Cmd{Name: "tar", Args: args, Stdout: w})
}
