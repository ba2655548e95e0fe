// Package model describes the base objects manipulated by tcbuilder.
//
// The object model is composed of:
//
//  Commits:
//    A commit is an immutable snapshot of a root filesystem tree, with a parent,
//    a subject, a body, a timestamp and free-form metadata (e.g. "version").
//
//  Branches:
//    A branch is a named, movable reference to a commit. The unpacked base image
//    is always recorded on the "base" branch.
//
//  Images:
//    An image describes a deployable artifact materialized from a commit: an
//    installer archive directory or a raw block-device image.
//
//  Storage area:
//    The working directory holding the object repository, the unpacked image template
//    and the scratch directories produced by the customization steps.
package model
