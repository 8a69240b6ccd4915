package patch

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Load error codes.
const (
	ErrCodeNotFound    = "P001" // path not found
	ErrCodeNoFiles     = "P002" // no CUE files found
	ErrCodeLoadFailed  = "P003" // CUE load failed
	ErrCodeBuildFailed = "P004" // CUE build failed
	ErrCodeDecodeError = "P005" // patch decode failed
	ErrCodeNoPatch     = "P006" // no top-level patch value
)

// LoadError is an error raised while loading a patch document, carrying a
// CUE source position when one is available.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads a patch document from the CUE package in dir. The package
// must expose a top-level "patch" value. Unification across multiple .cue
// files works the usual CUE way, so a patch can be split across files.
func LoadDir(dir string) (*Patch, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("patch directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing patch directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	return decodePatch(value)
}

// LoadFile loads a patch document from a single .cue file.
func LoadFile(path string) (*Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("compiling %s: %v", path, err)}
	}

	return decodePatch(value)
}

// decodePatch extracts the top-level "patch" value and decodes it.
func decodePatch(value cue.Value) (*Patch, error) {
	patchVal := value.LookupPath(cue.ParsePath("patch"))
	if !patchVal.Exists() {
		return nil, &LoadError{Code: ErrCodeNoPatch, Message: "no top-level patch value found"}
	}

	var p Patch
	if err := patchVal.Decode(&p); err != nil {
		return nil, &LoadError{
			Code:    ErrCodeDecodeError,
			Message: fmt.Sprintf("decoding patch: %v", err),
			Pos:     patchVal.Pos(),
		}
	}

	if p.ID == "" {
		return nil, &LoadError{Code: ErrCodeDecodeError, Message: "patch id is required"}
	}
	return &p, nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
