/*
Copyright 2024 The InfraWeave Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package yamlutil wraps gopkg.in/yaml.v3 so manifests are decoded with a
// single, consistent configuration. UnmarshalStrict rejects unknown fields,
// which is what claim and module manifests want.
package yamlutil

import (
	"bytes"
	"io"

	yaml "gopkg.in/yaml.v3"
)

func UnmarshalStrict(in []byte, out interface{}) error {
	return unmarshal(in, out, true)
}

func Unmarshal(in []byte, out interface{}) error {
	return unmarshal(in, out, false)
}

func Marshal(in interface{}) (out []byte, err error) {
	var b bytes.Buffer
	encoder := yaml.NewEncoder(&b)
	encoder.SetIndent(2)
	if err := encoder.Encode(in); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalAll splits a multi-document stream into its documents, re-encoded
// one by one so callers can decode each with the strictness they need. Empty
// documents are dropped.
func UnmarshalAll(in []byte) ([][]byte, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	var docs [][]byte
	for {
		var doc yaml.Node
		if err := decoder.Decode(&doc); err != nil {
			if err == io.EOF {
				return docs, nil
			}
			return nil, err
		}
		if doc.IsZero() {
			continue
		}
		out, err := Marshal(&doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, out)
	}
}

func unmarshal(in []byte, out interface{}, strict bool) error {
	b := bytes.NewReader(in)
	decoder := yaml.NewDecoder(b)
	decoder.KnownFields(strict)
	if err := decoder.Decode(out); err != nil {
		// yaml.v3 returns EOF for an empty document; treat it as a zero value.
		if err != io.EOF {
			return err
		}
	}
	return nil
}
