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

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// planFile is the local name terraform plan writes and show/apply read.
const planFile = "planfile"

type terraformCLI struct {
	dir string
}

func (t terraformCLI) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "terraform", args...)
	cmd.Dir = t.dir
	out, err := util.RunCmdOut(cmd)
	return string(out), err
}

// backendConfigArgs injects the state backend at init time. The module zips
// never carry backend configuration; state placement belongs to the platform.
func backendConfigArgs(cfg Config, p model.InfraPayload) []string {
	key := fmt.Sprintf("%s/%s/%s/terraform.tfstate", p.ProjectID, p.Environment, p.DeploymentID)
	return []string{
		"-backend-config=bucket=" + cfg.StateBucket,
		"-backend-config=key=" + key,
		"-backend-config=region=" + p.Region,
		"-backend-config=dynamodb_table=" + cfg.LockTable,
		"-backend-config=encrypt=true",
	}
}

// writeTfVars stores the payload variables as terraform.tfvars.json. Keys
// are already snake_case from claim processing.
func writeTfVars(dir string, variables map[string]any) error {
	if variables == nil {
		variables = map[string]any{}
	}
	data, err := json.MarshalIndent(variables, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding terraform variables: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "terraform.tfvars.json"), data, 0o644)
}

// writeBackendOverride declares an empty s3 backend stanza; the actual
// configuration arrives through -backend-config flags. An override file wins
// over any terraform block the module might carry.
func writeBackendOverride(dir string) error {
	stanza := "terraform {\n  backend \"s3\" {}\n}\n"
	return os.WriteFile(filepath.Join(dir, "backend_override.tf"), []byte(stanza), 0o644)
}

// parseOutputs unwraps terraform output -json into plain name/value pairs.
func parseOutputs(raw string) (map[string]any, error) {
	var decoded map[string]map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parsing terraform outputs: %w", err)
	}
	outputs := map[string]any{}
	for name, entry := range decoded {
		outputs[name] = entry["value"]
	}
	return outputs, nil
}
