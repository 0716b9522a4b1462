package hclgrid

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/reqrelay/internal/ctxlog"
)

// Request is one named request template. Method, URL, Headers, and Body are
// unevaluated expressions; everything else is literal configuration.
type Request struct {
	Name         string
	Transport    string
	Method       hcl.Expression
	URL          hcl.Expression
	Headers      hcl.Expression
	Body         hcl.Expression
	ExpectStatus []int
	SocketIO     *SocketIOBlock
	DeclRange    hcl.Range
}

// SocketIOBlock holds the socket.io connection parameters of a request
// that selects the socketio transport.
type SocketIOBlock struct {
	Namespace          string `hcl:"namespace,optional"`
	EmitEvent          string `hcl:"emit_event,optional"`
	OnEvent            string `hcl:"on_event"`
	Timeout            string `hcl:"timeout,optional"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional"`
}

// requestBlock is the raw decode target for one `request "name" {}` block.
type requestBlock struct {
	Name         string         `hcl:"name,label"`
	Transport    string         `hcl:"transport,optional"`
	Method       hcl.Expression `hcl:"method,optional"`
	URL          hcl.Expression `hcl:"url"`
	Headers      hcl.Expression `hcl:"headers,optional"`
	Body         hcl.Expression `hcl:"body,optional"`
	ExpectStatus []int          `hcl:"expect_status,optional"`
	SocketIO     *SocketIOBlock `hcl:"socketio,block"`
}

// fileRoot decodes all top-level blocks of one grid file.
type fileRoot struct {
	Requests []*requestBlock `hcl:"request,block"`
}

// Grid is the loaded set of request templates.
type Grid struct {
	Requests map[string]*Request
	order    []string
}

// Names returns the request names in declaration order.
func (g *Grid) Names() []string {
	return g.order
}

// Load parses every .hcl file under path (or path itself when it is a
// single file) and returns the merged grid. Duplicate request names and
// unknown transports are structural errors.
func Load(ctx context.Context, path string) (*Grid, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findHCLFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found under %s", path)
	}
	logger.Debug("Discovered grid files.", "count", len(files))

	grid := &Grid{Requests: make(map[string]*Request)}
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}

		for _, block := range root.Requests {
			req, err := translate(block)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if prev, dup := grid.Requests[req.Name]; dup {
				return nil, fmt.Errorf("%s: duplicate request %q (first declared at %s)", file, req.Name, prev.DeclRange)
			}
			grid.Requests[req.Name] = req
			grid.order = append(grid.order, req.Name)
		}
	}

	logger.Debug("Grid loading complete.", "requests", len(grid.Requests))
	return grid, nil
}

func translate(block *requestBlock) (*Request, error) {
	transport := block.Transport
	if transport == "" {
		transport = "http"
	}
	switch transport {
	case "http":
		if block.SocketIO != nil {
			return nil, fmt.Errorf("request %q: socketio block requires transport = \"socketio\"", block.Name)
		}
	case "socketio":
		if block.SocketIO == nil {
			return nil, fmt.Errorf("request %q: transport %q requires a socketio block", block.Name, transport)
		}
	default:
		return nil, fmt.Errorf("request %q: unknown transport %q", block.Name, transport)
	}

	if len(block.ExpectStatus) != 0 && len(block.ExpectStatus) != 2 {
		return nil, fmt.Errorf("request %q: expect_status must be a [low, high] pair", block.Name)
	}

	req := &Request{
		Name:         block.Name,
		Transport:    transport,
		Method:       optionalExpr(block.Method),
		URL:          block.URL,
		Headers:      optionalExpr(block.Headers),
		Body:         optionalExpr(block.Body),
		ExpectStatus: block.ExpectStatus,
		SocketIO:     block.SocketIO,
	}
	if block.URL != nil {
		req.DeclRange = block.URL.Range()
	}
	return req, nil
}

// optionalExpr restores the nil that callers' guards expect for absent
// optional attributes: gohcl decodes a missing attribute into a synthetic
// expression yielding a dynamic null rather than leaving the field nil.
func optionalExpr(expr hcl.Expression) hcl.Expression {
	if expr == nil {
		return nil
	}
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.IsNull() && v.Type() == cty.DynamicPseudoType {
		return nil
	}
	return expr
}

// Expressions returns the request's non-nil attribute expressions.
func (r *Request) Expressions() []hcl.Expression {
	exprs := make([]hcl.Expression, 0, 4)
	for _, e := range []hcl.Expression{r.Method, r.URL, r.Headers, r.Body} {
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	return exprs
}

// References returns the sorted, deduplicated names of other requests this
// request's expressions traverse through the `request` root.
func (r *Request) References() []string {
	seen := make(map[string]bool)
	for _, expr := range r.Expressions() {
		for _, traversal := range expr.Variables() {
			if traversal.RootName() != "request" || len(traversal) < 2 {
				continue
			}
			if attr, ok := traversal[1].(hcl.TraverseAttr); ok {
				seen[attr.Name] = true
			}
		}
	}

	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}

func findHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
