package node

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

// JSONEndpoints reads and writes the list of endpoints to dial at startup
// from a JSON file: a plain array of "host:port" strings.
type JSONEndpoints struct {
	l    sync.Mutex
	path string
}

// NewJSONEndpoints creates a JSONEndpoints backed by a file.
func NewJSONEndpoints(path string) *JSONEndpoints {
	return &JSONEndpoints{path: path}
}

// Endpoints reads the file. A missing file yields an empty list.
func (j *JSONEndpoints) Endpoints() ([]string, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var endpoints []string
	if err := json.Unmarshal(buf, &endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// Write replaces the file contents.
func (j *JSONEndpoints) Write(endpoints []string) error {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := json.MarshalIndent(endpoints, "", "\t")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return err
	}
	return ioutil.WriteFile(j.path, buf, 0600)
}
