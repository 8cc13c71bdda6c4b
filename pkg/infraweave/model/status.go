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

package model

// Deployment status values. The runner writes one event per transition; the
// deployment row always carries the most recent status.
const (
	StatusRequested           = "requested"
	StatusInitiated           = "initiated"
	StatusReceived            = "received"
	StatusFailedInit          = "failed_init"
	StatusFailedValidate      = "failed_validate"
	StatusFailedPlan          = "failed_plan"
	StatusFailedShowPlan      = "failed_show_plan"
	StatusFailedPolicy        = "failed_policy"
	StatusFailedOutput        = "failed_output"
	StatusWaitingOnDependency = "waiting-on-dependency"
	StatusHasDependants       = "has-dependants"
	StatusSuccessful          = "successful"
	StatusFailed              = "failed"
	StatusError               = "error"
)

// Commands accepted by the runner.
const (
	CommandApply   = "apply"
	CommandPlan    = "plan"
	CommandDestroy = "destroy"
)

// IsBusy reports whether a deployment currently has a job in flight and must
// not be re-dispatched.
func IsBusy(status string) bool {
	return status == StatusRequested || status == StatusInitiated
}

// IsTerminal reports whether a status ends a job; only terminal updates
// schedule the next drift check.
func IsTerminal(status string) bool {
	return status == StatusSuccessful || status == StatusFailed
}
