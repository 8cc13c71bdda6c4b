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
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// notifyWebhooks posts the drift message to each configured webhook once.
// Delivery failures are logged, never fatal; drift state is already stored.
func (r *Runner) notifyWebhooks(ctx context.Context, webhooks []model.Webhook, message string) {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		logrus.Errorf("encoding webhook payload: %v", err)
		return
	}
	for _, webhook := range webhooks {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
		if err != nil {
			logrus.Warnf("building webhook request for %s: %v", webhook.URL, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			logrus.Warnf("posting drift webhook to %s: %v", webhook.URL, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logrus.Warnf("drift webhook %s returned %s", webhook.URL, resp.Status)
		}
	}
}
