// Copyright © 2018 One Concern

package cmd

import (
	"github.com/oneconcern/tcbuilder/pkg/build"
	"github.com/oneconcern/tcbuilder/pkg/push"
	"github.com/spf13/cobra"
)

type flagsT struct {
	root struct {
		storage  string
		logLevel string
		logFile  string
		logJSON  bool
	}
	unpack struct {
		removeStorage bool
		label         string
		downloadDir   string
	}
	isolate struct {
		changesDir string
		force      bool
		localRoot  string
	}
	remote struct {
		host       string
		port       int
		username   string
		password   string
		keyFile    string
		knownHosts string
		insecure   bool
	}
	union struct {
		changesDirs []string
		base        string
		subject     string
		body        string
	}
	image struct {
		name          string
		description   string
		licence       string
		releaseNotes  string
		autoInstall   bool
		autoReboot    bool
		acceptLicence bool
		bundleDir     string
	}
	deploy struct {
		outputDir   string
		outputImage string
		baseImage   string
		label       string
		reboot      bool
		repoPort    int
	}
	combine struct {
		outputDir string
	}
	build struct {
		file           string
		assignments    []string
		noSubst        bool
		createTemplate bool
		downloadDir    string
	}
}

var tcbFlags = flagsT{}

const (
	storageFlag  = "storage-directory"
	logLevelFlag = "log-level"
)

func addStorageFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&tcbFlags.root.storage, storageFlag, "",
		"The storage area directory (default: the storage configuration key, or "+defaultStorage+")")
	return storageFlag
}

func addLogLevelFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&tcbFlags.root.logLevel, logLevelFlag, "",
		`The logging level: "debug", "info", "warn", "error" or "none" (default: the loglevel configuration key, or info)`)
	return logLevelFlag
}

func addLogFileFlag(cmd *cobra.Command) string {
	logFile := "log-file"
	cmd.PersistentFlags().StringVar(&tcbFlags.root.logFile, logFile, "", "Write logs to this file instead of stderr")
	return logFile
}

func addLogJSONFlag(cmd *cobra.Command) string {
	logJSON := "log-json"
	cmd.PersistentFlags().BoolVar(&tcbFlags.root.logJSON, logJSON, false, "Write logs as JSON")
	return logJSON
}

func addRemoveStorageFlag(cmd *cobra.Command) string {
	removeStorage := "remove-storage"
	cmd.Flags().BoolVar(&tcbFlags.unpack.removeStorage, removeStorage, false, "Replace the image already unpacked in the storage area")
	return removeStorage
}

func addRootfsLabelFlag(cmd *cobra.Command, target *string) string {
	label := "rootfs-label"
	cmd.Flags().StringVar(target, label, "", "The label of the root filesystem partition of raw images (default: otaroot)")
	return label
}

func addDownloadDirFlag(cmd *cobra.Command, target *string) string {
	downloadDir := "download-directory"
	cmd.Flags().StringVar(target, downloadDir, "", "Where remote input images are downloaded (default: a temporary directory)")
	return downloadDir
}

func addChangesDirFlag(cmd *cobra.Command) string {
	changesDir := "changes-directory"
	cmd.Flags().StringVar(&tcbFlags.isolate.changesDir, changesDir, "",
		"The directory receiving the isolated changes (default: changes, in the storage area)")
	return changesDir
}

func addForceFlag(cmd *cobra.Command) string {
	force := "force"
	cmd.Flags().BoolVar(&tcbFlags.isolate.force, force, false, "Replace the isolated changes already present")
	return force
}

func addLocalRootFlag(cmd *cobra.Command) string {
	localRoot := "local-root"
	cmd.Flags().StringVar(&tcbFlags.isolate.localRoot, localRoot, "",
		"Isolate the changes of a root filesystem available as a directory, against the base commit")
	return localRoot
}

func addRemoteFlags(cmd *cobra.Command) string {
	host := "remote-host"
	cmd.Flags().StringVar(&tcbFlags.remote.host, host, "", "The name or address of the device")
	cmd.Flags().IntVar(&tcbFlags.remote.port, "remote-port", 0, "The SSH port of the device (default: 22)")
	cmd.Flags().StringVar(&tcbFlags.remote.username, "remote-username", "", "The user to log in as (default: torizon)")
	cmd.Flags().StringVar(&tcbFlags.remote.password, "remote-password", "", "The password of the user, also handed to sudo")
	cmd.Flags().StringVar(&tcbFlags.remote.keyFile, "remote-key", "", "A private key to log in with")
	cmd.Flags().StringVar(&tcbFlags.remote.knownHosts, "known-hosts", "", "An OpenSSH known_hosts file verifying the device key")
	return host
}

func addUnionChangesDirFlag(cmd *cobra.Command) string {
	changesDir := "changes-directory"
	cmd.Flags().StringArrayVar(&tcbFlags.union.changesDirs, changesDir, nil,
		"A change set directory applied after the ones of the storage area. Can be repeated, directories are applied in order.")
	return changesDir
}

func addBaseFlag(cmd *cobra.Command) string {
	base := "base"
	cmd.Flags().StringVar(&tcbFlags.union.base, base, "base", "The commit or branch the changes apply to")
	return base
}

func addSubjectFlag(cmd *cobra.Command) string {
	subject := "subject"
	cmd.Flags().StringVar(&tcbFlags.union.subject, subject, "", "The subject of the commit (default: the creation date)")
	return subject
}

func addBodyFlag(cmd *cobra.Command) string {
	body := "body"
	cmd.Flags().StringVar(&tcbFlags.union.body, body, "", "The body of the commit")
	return body
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tcbFlags.image.name, "image-name", "", "The name of the image")
	cmd.Flags().StringVar(&tcbFlags.image.description, "image-description", "", "The description of the image")
	cmd.Flags().StringVar(&tcbFlags.image.licence, "image-licence", "", "A licence file copied into the image")
	cmd.Flags().StringVar(&tcbFlags.image.releaseNotes, "image-release-notes", "", "A release notes file copied into the image")
	cmd.Flags().BoolVar(&tcbFlags.image.autoInstall, "image-autoinstall", false, "Install the image without any interaction")
	cmd.Flags().BoolVar(&tcbFlags.image.autoReboot, "image-autoreboot", false, "Reboot once the image is installed")
	cmd.Flags().BoolVar(&tcbFlags.image.acceptLicence, "image-accept-licence", false, "Accept the licence on behalf of the user")
}

func addBundleDirFlag(cmd *cobra.Command) string {
	bundleDir := "bundle-directory"
	cmd.Flags().StringVar(&tcbFlags.image.bundleDir, bundleDir, "",
		"A container bundle directory, holding docker-compose.yml and docker-storage.tar.xz")
	return bundleDir
}

func addOutputDirFlag(cmd *cobra.Command, target *string) string {
	outputDir := "output-directory"
	cmd.Flags().StringVar(target, outputDir, "", "The directory receiving the installer image. It must not exist.")
	return outputDir
}

func addDeployFlags(cmd *cobra.Command) []string {
	outputImage := "output-image"
	cmd.Flags().StringVar(&tcbFlags.deploy.outputImage, outputImage, "",
		"The raw block image to write. A directory gets the default image name.")
	cmd.Flags().StringVar(&tcbFlags.deploy.baseImage, "base-image", "",
		"The raw block image used as template (default: the image unpacked in the storage area)")
	addRootfsLabelFlag(cmd, &tcbFlags.deploy.label)
	cmd.Flags().BoolVar(&tcbFlags.deploy.reboot, "reboot", false, "Reboot the device once the deployment is staged")
	cmd.Flags().IntVar(&tcbFlags.deploy.repoPort, "repo-port", push.DefaultPort,
		"The port the device pulls the commit from, on its loopback interface")
	return []string{outputImage}
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&tcbFlags.build.file, "file", "f", build.DefaultManifest, "The build manifest")
	cmd.Flags().StringArrayVarP(&tcbFlags.build.assignments, "set", "s", nil,
		`Assign a value to a variable of the manifest (e.g. VERSION="1.2.3"). Can be repeated.`)
	cmd.Flags().BoolVarP(&tcbFlags.build.noSubst, "no-subst", "n", false, "Disable variable substitution")
	cmd.Flags().BoolVarP(&tcbFlags.build.createTemplate, "create-template", "c", false,
		"Write a manifest template to the file given by --file")
	addDownloadDirFlag(cmd, &tcbFlags.build.downloadDir)
}
