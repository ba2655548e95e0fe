/*
Package union composes change sets onto a base commit.

Change sets are applied in the given order, each one on top of the result of the previous ones:
the opaque markers of a layer clear the directories below it, its deletion markers remove paths,
then its material entries replace whatever lies at the same paths. Attribute sidecars are
restored last, the most recent layer writing a path deciding its metadata.

The composed commit is a child of the base commit. The branch is advanced only once the commit
is fully written.
*/
package union
