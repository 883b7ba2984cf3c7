package volfs

import (
	"fmt"
	"strings"

	"github.com/dargueta/volumefs"
)

// Navigation is the stack of folders from the root down to the working folder.
// The root itself is implicit and never on the stack.
//
// A Navigation is a value: every method that "changes" it returns a new one
// and leaves the receiver alone. Failed path resolution therefore can't leave
// a half-walked stack behind.
type Navigation struct {
	stack []*Folder
}

// Current returns the working folder, or `root` if the stack is empty.
func (n Navigation) Current(root *Folder) *Folder {
	if len(n.stack) == 0 {
		return root
	}
	return n.stack[len(n.stack)-1]
}

// Depth is the number of folders below the root.
func (n Navigation) Depth() int {
	return len(n.stack)
}

// Folders returns a copy of the stack, outermost folder first.
func (n Navigation) Folders() []*Folder {
	result := make([]*Folder, len(n.stack))
	copy(result, n.stack)
	return result
}

func (n Navigation) push(folder *Folder) Navigation {
	stack := make([]*Folder, len(n.stack), len(n.stack)+1)
	copy(stack, n.stack)
	return Navigation{stack: append(stack, folder)}
}

// Pop returns the navigation one level up. Popping at the root is a no-op.
func (n Navigation) Pop() Navigation {
	if len(n.stack) == 0 {
		return n
	}
	return Navigation{stack: n.stack[:len(n.stack)-1 : len(n.stack)-1]}
}

// String renders the working path, e.g. "~/docs/drafts".
func (n Navigation) String() string {
	parts := make([]string, 0, len(n.stack)+1)
	parts = append(parts, volumefs.RootName)
	for _, folder := range n.stack {
		parts = append(parts, folder.name)
	}
	return strings.Join(parts, volumefs.PathSeparator)
}

func splitPath(path string) (segments []string, absolute bool) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, volumefs.PathSeparator) {
		absolute = true
	}

	for _, segment := range strings.Split(path, volumefs.PathSeparator) {
		if segment == "" || segment == volumefs.SelfSegment {
			continue
		}
		segments = append(segments, segment)
	}

	if len(segments) > 0 && segments[0] == volumefs.RootName {
		absolute = true
		segments = segments[1:]
	}
	return segments, absolute
}

// Navigate walks `path` from `nav` and returns where it ends up. `..` goes up
// one level (staying put at the root), and every other segment must name a
// folder in the current folder. A leading "/" or "~" starts from the root.
//
// On failure the original `nav` is still valid and unchanged.
func (t *Tree) Navigate(nav Navigation, path string) (Navigation, error) {
	segments, absolute := splitPath(path)
	if absolute {
		nav = Navigation{}
	}

	for _, segment := range segments {
		next, err := t.step(nav, segment)
		if err != nil {
			return Navigation{}, volumefs.ErrInvalidPath.Wrap(
				fmt.Errorf("can't resolve %q: %w", path, err))
		}
		nav = next
	}
	return nav, nil
}

func (t *Tree) step(nav Navigation, segment string) (Navigation, error) {
	if segment == volumefs.ParentSegment {
		return nav.Pop(), nil
	}

	current := nav.Current(t.root)
	if _, node := current.Lookup(segment, volumefs.KindFolder); node != nil {
		return nav.push(node.(*Folder)), nil
	}
	if _, node := current.Lookup(segment, volumefs.KindFile); node != nil {
		return Navigation{}, volumefs.ErrNotADirectory.WithMessage(
			fmt.Sprintf("%q is a file", segment))
	}
	return Navigation{}, volumefs.ErrNotFound.WithMessage(
		fmt.Sprintf("no folder named %q in %s", segment, nav))
}

// Resolve finds the node at `path`, relative to `nav` unless the path is
// absolute. It returns the navigation of the folder containing the node along
// with the node itself. A path that ends at a folder (including "", ".", "..",
// and "~") returns that folder; for the root the returned navigation is empty
// and meaningless.
//
// Every segment except the last must be a folder. The last one may name a
// file or a folder; if both exist with that name the folder wins.
func (t *Tree) Resolve(nav Navigation, path string) (Navigation, Node, error) {
	segments, absolute := splitPath(path)
	if absolute {
		nav = Navigation{}
	}

	last := ""
	if len(segments) > 0 && segments[len(segments)-1] != volumefs.ParentSegment {
		last = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}

	for _, segment := range segments {
		next, err := t.step(nav, segment)
		if err != nil {
			return Navigation{}, nil, fmt.Errorf("can't resolve %q: %w", path, err)
		}
		nav = next
	}

	if last == "" {
		current := nav.Current(t.root)
		return nav.Pop(), current, nil
	}

	current := nav.Current(t.root)
	if _, node := current.Lookup(last, volumefs.KindFolder); node != nil {
		return nav, node, nil
	}
	if _, node := current.Lookup(last, volumefs.KindFile); node != nil {
		return nav, node, nil
	}
	return Navigation{}, nil, volumefs.ErrNotFound.WithMessage(
		fmt.Sprintf("can't resolve %q: nothing named %q in %s", path, last, nav))
}

// navigationTo returns the navigation whose working folder is `target`, or
// false if `target` isn't in the tree.
func (t *Tree) navigationTo(target *Folder) (Navigation, bool) {
	if target == t.root {
		return Navigation{}, true
	}
	return searchNavigation(t.root, target, Navigation{})
}

func searchNavigation(folder, target *Folder, nav Navigation) (Navigation, bool) {
	for _, child := range folder.children {
		subfolder, ok := child.(*Folder)
		if !ok {
			continue
		}
		next := nav.push(subfolder)
		if subfolder == target {
			return next, true
		}
		if found, ok := searchNavigation(subfolder, target, next); ok {
			return found, true
		}
	}
	return Navigation{}, false
}

// remap rebuilds `nav` against this tree by matching folder IDs, for when the
// tree has been replaced by a freshly decoded copy. It stops at the first
// folder that no longer exists.
func (t *Tree) remap(nav Navigation) Navigation {
	result := Navigation{}
	current := t.root
	for _, old := range nav.stack {
		next := current.folderWithID(old.id)
		if next == nil {
			break
		}
		result = result.push(next)
		current = next
	}
	return result
}
