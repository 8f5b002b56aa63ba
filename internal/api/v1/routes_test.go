package v1_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	v1 "github.com/stacklok/gitops-agent/internal/api/v1"
	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/history"
	"github.com/stacklok/gitops-agent/internal/service/mocks"
	"github.com/stacklok/gitops-agent/internal/webhook"
)

var secret = []byte("s3cret")

const pushPayload = `{"ref":"refs/heads/main","after":"abc1234"}`

func decodeLines(body string) []map[string]any {
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		var ev map[string]any
		Expect(json.Unmarshal([]byte(line), &ev)).To(Succeed())
		out = append(out, ev)
	}
	return out
}

func statuses(evs []map[string]any) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev["status"].(string))
	}
	return out
}

var _ = Describe("Routes", func() {
	var (
		ctrl   *gomock.Controller
		svc    *mocks.MockDeploymentService
		router http.Handler
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		svc = mocks.NewMockDeploymentService(ctrl)
		router = v1.Router(svc, v1.WithWebhookSecret(secret))
	})

	do := func(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	signed := func(body string) map[string]string {
		return map[string]string{webhook.SignatureHeader: webhook.Sign([]byte(body), secret)}
	}

	Describe("POST /webhooks/deploy", func() {
		It("rejects a request without signature", func() {
			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(ContainSubstring("Invalid signature"))
		})

		It("rejects a signature computed over a different body", func() {
			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, signed(`{"ref":"other"}`))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects every request when no secret is configured", func() {
			router = v1.Router(svc)
			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, signed(pushPayload))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects a correctly signed body that is not JSON", func() {
			rec := do(http.MethodPost, "/webhooks/deploy", "not json", signed("not json"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("Invalid JSON payload"))
		})

		DescribeTable("rejects a correctly signed JSON value that is not an object",
			func(body string) {
				rec := do(http.MethodPost, "/webhooks/deploy", body, signed(body))
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(rec.Body.String()).To(ContainSubstring("Invalid JSON payload"))
			},
			Entry("number", "123"),
			Entry("string", `"x"`),
			Entry("array", `[{"ref":"refs/heads/main"}]`),
			Entry("null", "null"),
		)

		It("streams deployment events as NDJSON", func() {
			var got deploy.Trigger
			svc.EXPECT().Deploy(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, trigger deploy.Trigger, sink deploy.Sink) (deploy.DeploymentState, error) {
					got = trigger
					sink(deploy.Event{Status: deploy.EventStarted, Message: "Deployment started"})
					sink(deploy.Event{Status: deploy.EventPulled, ChangedFiles: []string{"automations.yaml"}})
					sink(deploy.Event{Status: deploy.EventSuccess, ReloadedDomains: []string{"automation"}})
					return deploy.DeploymentState{Status: deploy.StatusSuccess}, nil
				})

			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, signed(pushPayload))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/x-ndjson"))
			Expect(rec.Flushed).To(BeTrue())
			Expect(got.Source).To(Equal(v1.TriggerWebhook))
			Expect(string(got.Payload)).To(Equal(pushPayload))

			evs := decodeLines(rec.Body.String())
			Expect(statuses(evs)).To(Equal([]string{"started", "pulled", "success"}))
			Expect(evs[1]["changed_files"]).To(ConsistOf("automations.yaml"))
			Expect(evs[2]["reloaded_domains"]).To(ConsistOf("automation"))
		})

		It("streams server-sent events when asked to", func() {
			svc.EXPECT().Deploy(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, _ deploy.Trigger, sink deploy.Sink) (deploy.DeploymentState, error) {
					sink(deploy.Event{Status: deploy.EventStarted})
					return deploy.DeploymentState{Status: deploy.StatusSuccess}, nil
				})

			headers := signed(pushPayload)
			headers["Accept"] = "text/event-stream"
			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, headers)
			Expect(rec.Header().Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(rec.Body.String()).To(HavePrefix(`data: {"status":"started"`))
			Expect(rec.Body.String()).To(HaveSuffix("\n\n"))
		})

		It("does not add an error event after a failed deployment", func() {
			svc.EXPECT().Deploy(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, _ deploy.Trigger, sink deploy.Sink) (deploy.DeploymentState, error) {
					sink(deploy.Event{Status: deploy.EventStarted})
					sink(deploy.Event{Status: deploy.EventFailed, Error: "Git lock file detected"})
					return deploy.DeploymentState{Status: deploy.StatusFailed},
						&deploy.Error{Kind: deploy.KindGitLocked, Message: "Git lock file detected"}
				})

			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, signed(pushPayload))
			Expect(statuses(decodeLines(rec.Body.String()))).To(Equal([]string{"started", "failed"}))
		})

		It("ends the stream with an error event when the deployment could not run", func() {
			svc.EXPECT().Deploy(gomock.Any(), gomock.Any(), gomock.Any()).Return(
				deploy.DeploymentState{}, errors.New("deployment not started: context canceled"))

			rec := do(http.MethodPost, "/webhooks/deploy", pushPayload, signed(pushPayload))
			evs := decodeLines(rec.Body.String())
			Expect(evs).To(HaveLen(1))
			Expect(evs[0]["status"]).To(Equal("error"))
			Expect(evs[0]["error"]).To(ContainSubstring("context canceled"))
		})
	})

	Describe("POST /updates/install", func() {
		It("streams the update deployment", func() {
			svc.EXPECT().InstallUpdate(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, sink deploy.Sink) (deploy.DeploymentState, error) {
					sink(deploy.Event{Status: deploy.EventStarted})
					sink(deploy.Event{Status: deploy.EventRestartRequired})
					return deploy.DeploymentState{Status: deploy.StatusRestartRequired}, nil
				})

			rec := do(http.MethodPost, "/updates/install", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(statuses(decodeLines(rec.Body.String()))).To(Equal([]string{"started", "restart_required"}))
		})
	})

	Describe("POST /webhooks/secrets", func() {
		It("accepts and syncs in the background", func() {
			ctxErr := make(chan error, 1)
			svc.EXPECT().SecretsEnabled().Return(true)
			svc.EXPECT().SyncSecrets(gomock.Any()).DoAndReturn(func(ctx context.Context) (int, error) {
				// the request has already completed here
				ctxErr <- ctx.Err()
				return 3, nil
			})

			rec := do(http.MethodPost, "/webhooks/secrets", "", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(ContainSubstring("Secrets refresh triggered"))
			Eventually(ctxErr, time.Second).Should(Receive(BeNil()))
		})

		It("accepts even when the sync fails", func() {
			done := make(chan struct{})
			svc.EXPECT().SecretsEnabled().Return(true)
			svc.EXPECT().SyncSecrets(gomock.Any()).DoAndReturn(func(context.Context) (int, error) {
				defer close(done)
				return 0, errors.New("provider down")
			})

			rec := do(http.MethodPost, "/webhooks/secrets", "", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Eventually(done, time.Second).Should(BeClosed())
		})

		It("accepts without syncing when no provider is configured", func() {
			svc.EXPECT().SecretsEnabled().Return(false)

			rec := do(http.MethodPost, "/webhooks/secrets", "", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(ContainSubstring("No secrets provider configured"))
		})
	})

	Describe("GET /status", func() {
		It("reports the deployment and the current commit", func() {
			svc.EXPECT().DeploymentState().Return(deploy.DeploymentState{
				Status:    deploy.StatusSuccess,
				CommitSHA: "abc1234",
			})
			svc.EXPECT().GitState().Return(deploy.GitState{
				LocalSHA:      "abc1234",
				LocalMessage:  "Add automation",
				RemoteSHA:     "def5678",
				CommitsBehind: 1,
			})
			svc.EXPECT().SecretsEnabled().Return(true)
			svc.EXPECT().ListConditions().Return([]conditions.Condition{{Kind: conditions.DriftDetected}})

			rec := do(http.MethodGet, "/status", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp v1.StatusResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Deployment.Status).To(Equal(deploy.StatusSuccess))
			Expect(resp.Commit).To(Equal(v1.CommitInfo{SHA: "abc1234", Message: "Add automation"}))
			Expect(resp.UpdateAvailable).To(BeTrue())
			Expect(resp.SecretsEnabled).To(BeTrue())
			Expect(resp.Conditions).To(Equal(1))
		})
	})

	Describe("updates", func() {
		It("returns update info", func() {
			svc.EXPECT().UpdateInfo().Return(deploy.UpdateInfo{
				UpdateAvailable: true,
				State: deploy.GitState{
					LocalSHA:      "abc1234",
					RemoteSHA:     "def5678",
					CommitsBehind: 1,
					CommitLog:     []git.Commit{{SHA: "def5678", Message: "Tweak"}},
				},
				ReleaseNotes: "### 1 new commit\n\n- **`def5678`** Tweak",
				CompareURL:   "https://git.example.com/compare/abc1234...def5678",
			})

			rec := do(http.MethodGet, "/updates", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"update_available":true`))
			Expect(rec.Body.String()).To(ContainSubstring(`"compare_url":"https://git.example.com/compare/abc1234...def5678"`))
		})

		It("maps a failed check to 502", func() {
			svc.EXPECT().CheckForUpdates(gomock.Any()).Return(deploy.GitState{}, errors.New("fetch failed"))

			rec := do(http.MethodPost, "/updates/check", "", nil)
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
		})

		It("returns fresh info after a check", func() {
			svc.EXPECT().CheckForUpdates(gomock.Any()).Return(deploy.GitState{}, nil)
			svc.EXPECT().UpdateInfo().Return(deploy.UpdateInfo{})

			rec := do(http.MethodPost, "/updates/check", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("conditions", func() {
		It("lists an empty set as an empty array", func() {
			svc.EXPECT().ListConditions().Return(nil)

			rec := do(http.MethodGet, "/conditions", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"conditions":[]}`))
		})

		It("acknowledges a standing condition", func() {
			svc.EXPECT().AcknowledgeCondition(gomock.Any(), conditions.RestartRequired).Return(true)

			rec := do(http.MethodDelete, "/conditions/restart_required", "", nil)
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		})

		It("answers 404 for a condition that is not raised", func() {
			svc.EXPECT().AcknowledgeCondition(gomock.Any(), conditions.DriftDetected).Return(false)

			rec := do(http.MethodDelete, "/conditions/drift_detected", "", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /deployments", func() {
		It("uses the default limit", func() {
			svc.EXPECT().History(gomock.Any(), history.DefaultListLimit).Return([]history.Record{
				{AttemptID: "a1", Status: "success"},
			}, nil)

			rec := do(http.MethodGet, "/deployments", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp v1.DeploymentsResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Deployments).To(HaveLen(1))
			Expect(resp.Deployments[0].AttemptID).To(Equal("a1"))
		})

		DescribeTable("rejects a bad limit",
			func(limit string) {
				rec := do(http.MethodGet, "/deployments?limit="+limit, "", nil)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("zero", "0"),
			Entry("negative", "-3"),
			Entry("not a number", "ten"),
		)

		It("answers 404 when history is disabled", func() {
			svc.EXPECT().History(gomock.Any(), 5).Return(nil, deploy.ErrHistoryDisabled)

			rec := do(http.MethodGet, "/deployments?limit=5", "", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
