/*
Package build runs build manifests.

A manifest names an input image, the customizations applied to it and the images to
produce. It is validated as a whole before anything runs: every violation is reported with
its location in the file.

Customizations run in a fixed order: device tree, splash screen, kernel, filesystem changes,
then container bundling. Each of the first phases yields a change set; all of them are
composed onto the base commit of the input image, and each output is materialized from
the resulting commit.
*/
package build
