package fat

import (
	"strings"

	"github.com/dargueta/libresd"
)

// rootCluster is the cluster number that represents "the root directory"
// for this volume's variant: 0 for the FAT12/16 fixed root, RootCluster
// for FAT32.
func (v *Volume) rootCluster() uint32 {
	if v.bs.Variant == VariantFAT32 {
		return v.bs.RootCluster
	}
	return 0
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// resolvePath walks path component by component, starting from the root
// if path is absolute or the current directory otherwise. Grounded on
// libresd_fat.c's fat_resolve_path, including its documented shortcut:
// ".." always jumps to the root rather than reading the directory's own
// ".." entry (spec.md section 9's first Open Question -- preserved, not
// corrected).
func (v *Volume) resolvePath(path string) (DirEntry, error) {
	dir := v.cwdCluster
	if strings.HasPrefix(path, "/") {
		dir = v.rootCluster()
	}

	parts := splitPath(path)
	if len(parts) == 0 {
		return DirEntry{FirstCluster: dir, Attr: attrDirectory}, nil
	}

	var current DirEntry
	haveCurrent := false

	for i, part := range parts {
		last := i == len(parts)-1

		switch part {
		case ".":
			continue
		case "..":
			dir = v.rootCluster()
			haveCurrent = false
			continue
		}

		entries, err := v.readDirEntries(dir)
		if err != nil {
			return DirEntry{}, err
		}

		found := false
		for _, e := range entries {
			if strings.EqualFold(e.Name, part) {
				current = e
				haveCurrent = true
				found = true
				break
			}
		}
		if !found {
			return DirEntry{}, libresd.New(libresd.ErrNotFound)
		}

		if !last {
			if !current.IsDir() {
				return DirEntry{}, libresd.New(libresd.ErrNotADirectory)
			}
			dir = current.FirstCluster
		}
	}

	if !haveCurrent {
		return DirEntry{FirstCluster: dir, Attr: attrDirectory}, nil
	}
	return current, nil
}

// parentOf splits path into the cluster of its containing directory and
// its final component name.
func (v *Volume) parentOf(path string) (parentCluster uint32, name string, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return 0, "", libresd.New(libresd.ErrInvalidName)
	}
	name = parts[len(parts)-1]

	parentParts := parts[:len(parts)-1]
	var parentPath string
	if strings.HasPrefix(path, "/") {
		parentPath = "/" + strings.Join(parentParts, "/")
	} else if len(parentParts) == 0 {
		return v.cwdCluster, name, nil
	} else {
		parentPath = strings.Join(parentParts, "/")
	}

	parentEntry, err := v.resolvePath(parentPath)
	if err != nil {
		return 0, "", err
	}
	if !parentEntry.IsDir() && len(parentParts) > 0 {
		return 0, "", libresd.New(libresd.ErrNotADirectory)
	}
	return parentEntry.FirstCluster, name, nil
}
