package storagearea

func newFlockLocker(path string) locker {
	return newMemLocker(path)
}
