package stack

import (
	"regexp"
	"strings"

	"github.com/probelab/stacktrap/pkg/models"
)

// Classifier decomposes frame paths relative to a project root and tags
// frames that belong to vendor code. Pure, no I/O.
type Classifier struct {
	// Root is the working directory builds are relative to, forward-slashed.
	Root string
}

var (
	reExternal = regexp.MustCompile(`^https?://([^/]+)(/.*)?$`)
	reScheme   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:/{1,2}`)
)

// Virtual bundler roots stripped from the short path, in order.
var virtualPrefixes = []string{
	"node_modules/",
	"webpack/bootstrap/",
	"__parcel_source_root/",
}

// Classify returns a copy of the frame annotated with the relative path,
// external-domain extraction and the third-party flag.
func (c Classifier) Classify(f models.StackFrame) models.StackFrame {
	out := f
	path := f.File

	if m := reExternal.FindStringSubmatch(path); m != nil {
		out.ExternalDomain = stripPort(m[1])
		path = strings.TrimPrefix(m[2], "/")
	} else {
		path = relativeTo(path, c.Root)
		// webpack and friends leave scheme:// virtual roots behind
		path = reScheme.ReplaceAllString(path, "")
	}
	out.FileRelative = path

	short := path
	for _, prefix := range virtualPrefixes {
		short = strings.TrimPrefix(short, prefix)
	}
	out.FileShort = short

	out.ThirdParty = !out.Index && thirdParty(out.ExternalDomain, out.FileRelative)

	if i := strings.LastIndex(f.Callee, "."); i >= 0 {
		out.CalleeShort = f.Callee[i+1:]
	} else {
		out.CalleeShort = f.Callee
	}
	if i := strings.LastIndex(f.File, "/"); i >= 0 {
		out.FileName = f.File[i+1:]
	} else {
		out.FileName = f.File
	}
	return out
}

// thirdParty applies the vendor-code rule: any external domain, a webpack
// alias (~), an absolute path outside the project, or a package-manager /
// bundler directory.
func thirdParty(domain, rel string) bool {
	if domain != "" {
		return true
	}
	if strings.HasPrefix(rel, "~") || strings.HasPrefix(rel, "/") {
		return true
	}
	return strings.HasPrefix(rel, "node_modules") || strings.HasPrefix(rel, "webpack/bootstrap")
}

// relativeTo makes path relative to root when it lives underneath it.
func relativeTo(path, root string) string {
	if root == "" {
		return path
	}
	root = strings.TrimSuffix(root, "/") + "/"
	if strings.HasPrefix(path, root) {
		return path[len(root):]
	}
	return path
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}
