package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/genai"
)

// Endpoints holds the Google Cloud API base URLs. Overridable so tests can
// point the toolset at httptest servers.
type Endpoints struct {
	Run             string
	Storage         string
	Compute         string
	ResourceManager string
	ServiceUsage    string
	Billing         string
	Budgets         string
	PubSub          string
}

// DefaultEndpoints returns the production Google Cloud API endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Run:             "https://run.googleapis.com",
		Storage:         "https://storage.googleapis.com",
		Compute:         "https://compute.googleapis.com",
		ResourceManager: "https://cloudresourcemanager.googleapis.com",
		ServiceUsage:    "https://serviceusage.googleapis.com",
		Billing:         "https://cloudbilling.googleapis.com",
		Budgets:         "https://billingbudgets.googleapis.com",
		PubSub:          "https://pubsub.googleapis.com",
	}
}

// GCPToolset provides read-only inspection tools over Google Cloud REST
// APIs. All calls use the injected HTTP client, which must carry
// credentials (see NewAuthenticatedClient).
type GCPToolset struct {
	project   string
	location  string
	client    *http.Client
	endpoints Endpoints
	logger    *slog.Logger
}

// NewAuthenticatedClient returns an HTTP client using application default
// credentials with the cloud-platform scope.
func NewAuthenticatedClient(ctx context.Context) (*http.Client, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("loading application default credentials: %w", err)
	}
	return client, nil
}

// NewGCPToolset creates the toolset for a project and Cloud Run location.
func NewGCPToolset(client *http.Client, project, location string, endpoints Endpoints, logger *slog.Logger) (*GCPToolset, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCPToolset{
		project:   project,
		location:  location,
		client:    client,
		endpoints: endpoints,
		logger:    logger,
	}, nil
}

// Tools returns the toolset's tools in a stable order.
func (t *GCPToolset) Tools() []Tool {
	noArgs := func(fn func(ctx context.Context) string) Handler {
		return func(ctx context.Context, _ map[string]any) string { return fn(ctx) }
	}

	return []Tool{
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "listCloudRunServices",
				Description: "List all Cloud Run services in the project, including their URLs and traffic routing.",
			},
			Handler: noArgs(t.ListCloudRunServices),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "listStorageBuckets",
				Description: "List all Cloud Storage buckets in the project.",
			},
			Handler: noArgs(t.ListStorageBuckets),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "listComputeInstances",
				Description: "List all Compute Engine virtual machine instances across all zones.",
			},
			Handler: noArgs(t.ListComputeInstances),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "getProjectInfo",
				Description: "Get basic information about the project: name, number, state, creation date.",
			},
			Handler: noArgs(t.ProjectInfo),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "listEnabledAPIs",
				Description: "List all enabled Google Cloud APIs on the project.",
			},
			Handler: noArgs(t.ListEnabledAPIs),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "getIAMPolicy",
				Description: "Get the IAM policy for the project, showing all role bindings.",
			},
			Handler: noArgs(t.IAMPolicy),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "getBillingOverview",
				Description: "Get billing information including the billing account and any configured budgets with their current spend.",
			},
			Handler: noArgs(t.BillingOverview),
		},
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "listPubSubTopics",
				Description: "List all Pub/Sub topics in the project.",
			},
			Handler: noArgs(t.ListPubSubTopics),
		},
	}
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (t *GCPToolset) getJSON(ctx context.Context, url string, out any) error {
	return t.doJSON(ctx, http.MethodGet, url, nil, out)
}

func (t *GCPToolset) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s: %s", url, resp.Status, truncate(string(data), 200))
	}
	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ListCloudRunServices lists Cloud Run services in the configured location.
func (t *GCPToolset) ListCloudRunServices(ctx context.Context) string {
	url := fmt.Sprintf("%s/v2/projects/%s/locations/%s/services",
		t.endpoints.Run, t.project, t.location)

	var data struct {
		Services []struct {
			Name    string `json:"name"`
			URI     string `json:"uri"`
			Traffic []struct {
				Percent  int    `json:"percent"`
				Revision string `json:"revision"`
			} `json:"traffic"`
		} `json:"services"`
	}
	if err := t.getJSON(ctx, url, &data); err != nil {
		return fmt.Sprintf("Error listing Cloud Run services: %v", err)
	}
	if len(data.Services) == 0 {
		return "No Cloud Run services found."
	}

	lines := make([]string, 0, len(data.Services))
	for _, svc := range data.Services {
		name := lastSegment(svc.Name)
		uri := svc.URI
		if uri == "" {
			uri = "no URL"
		}
		var traffic []string
		for _, tr := range svc.Traffic {
			rev := lastSegment(tr.Revision)
			if rev == "" {
				rev = "latest"
			}
			traffic = append(traffic, fmt.Sprintf("%d%% -> %s", tr.Percent, rev))
		}
		line := fmt.Sprintf("• %s - %s", name, uri)
		if len(traffic) > 0 {
			line += fmt.Sprintf(" (%s)", strings.Join(traffic, ", "))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// ListStorageBuckets lists Cloud Storage buckets in the project.
func (t *GCPToolset) ListStorageBuckets(ctx context.Context) string {
	url := fmt.Sprintf("%s/storage/v1/b?project=%s", t.endpoints.Storage, t.project)

	var data struct {
		Items []struct {
			Name     string `json:"name"`
			Location string `json:"location"`
		} `json:"items"`
	}
	if err := t.getJSON(ctx, url, &data); err != nil {
		return fmt.Sprintf("Error listing Cloud Storage buckets: %v", err)
	}
	if len(data.Items) == 0 {
		return "No Cloud Storage buckets found."
	}

	lines := make([]string, 0, len(data.Items))
	for _, b := range data.Items {
		loc := b.Location
		if loc == "" {
			loc = "unknown location"
		}
		lines = append(lines, fmt.Sprintf("• %s (%s)", b.Name, loc))
	}
	return strings.Join(lines, "\n")
}

// ListComputeInstances lists VM instances across all zones.
func (t *GCPToolset) ListComputeInstances(ctx context.Context) string {
	url := fmt.Sprintf("%s/compute/v1/projects/%s/aggregated/instances",
		t.endpoints.Compute, t.project)

	var data struct {
		Items map[string]struct {
			Instances []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
				Zone   string `json:"zone"`
			} `json:"instances"`
		} `json:"items"`
	}
	if err := t.getJSON(ctx, url, &data); err != nil {
		return fmt.Sprintf("Error listing Compute Engine instances: %v", err)
	}

	var lines []string
	for _, zone := range data.Items {
		for _, vm := range zone.Instances {
			lines = append(lines, fmt.Sprintf("• %s - %s (%s)", vm.Name, vm.Status, lastSegment(vm.Zone)))
		}
	}
	if len(lines) == 0 {
		return "No Compute Engine instances found."
	}
	return strings.Join(lines, "\n")
}

// ProjectInfo returns the project's metadata.
func (t *GCPToolset) ProjectInfo(ctx context.Context) string {
	url := fmt.Sprintf("%s/v3/projects/%s", t.endpoints.ResourceManager, t.project)

	var data struct {
		ProjectID     string `json:"projectId"`
		DisplayName   string `json:"displayName"`
		ProjectNumber string `json:"projectNumber"`
		State         string `json:"state"`
		CreateTime    string `json:"createTime"`
	}
	if err := t.getJSON(ctx, url, &data); err != nil {
		return fmt.Sprintf("Error getting project info: %v", err)
	}

	return strings.Join([]string{
		"• Project ID: " + data.ProjectID,
		"• Display name: " + data.DisplayName,
		"• Project number: " + data.ProjectNumber,
		"• State: " + data.State,
		"• Created: " + data.CreateTime,
	}, "\n")
}

// ListEnabledAPIs lists APIs enabled on the project.
func (t *GCPToolset) ListEnabledAPIs(ctx context.Context) string {
	url := fmt.Sprintf("%s/v1/projects/%s/services?filter=state:ENABLED&pageSize=100",
		t.endpoints.ServiceUsage, t.project)

	var data struct {
		Services []struct {
			Name string `json:"name"`
		} `json:"services"`
	}
	if err := t.getJSON(ctx, url, &data); err != nil {
		return fmt.Sprintf("Error listing enabled APIs: %v", err)
	}
	if len(data.Services) == 0 {
		return "No enabled APIs found."
	}

	lines := make([]string, 0, len(data.Services))
	for _, svc := range data.Services {
		lines = append(lines, "• "+lastSegment(svc.Name))
	}
	return strings.Join(lines, "\n")
}

// IAMPolicy returns the project's IAM role bindings. Service agent roles
// are filtered out to keep the output readable.
func (t *GCPToolset) IAMPolicy(ctx context.Context) string {
	url := fmt.Sprintf("%s/v1/projects/%s:getIamPolicy", t.endpoints.ResourceManager, t.project)

	var data struct {
		Bindings []struct {
			Role    string   `json:"role"`
			Members []string `json:"members"`
		} `json:"bindings"`
	}
	if err := t.doJSON(ctx, http.MethodPost, url, []byte("{}"), &data); err != nil {
		return fmt.Sprintf("Error getting IAM policy: %v", err)
	}

	var lines []string
	for _, b := range data.Bindings {
		if strings.Contains(b.Role, "serviceAgent") {
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s\n  %s", b.Role, strings.Join(b.Members, ", ")))
	}
	if len(lines) == 0 {
		return "No IAM bindings found."
	}
	return strings.Join(lines, "\n")
}

// BillingOverview returns the billing account and budget spend summary.
func (t *GCPToolset) BillingOverview(ctx context.Context) string {
	infoURL := fmt.Sprintf("%s/v1/projects/%s/billingInfo", t.endpoints.Billing, t.project)

	var info struct {
		BillingAccountName string `json:"billingAccountName"`
		BillingEnabled     bool   `json:"billingEnabled"`
	}
	if err := t.getJSON(ctx, infoURL, &info); err != nil {
		return fmt.Sprintf("Error fetching cost data: %v", err)
	}
	if !info.BillingEnabled {
		return "Billing is not enabled on this project."
	}

	budgetsURL := fmt.Sprintf("%s/v1/%s/budgets", t.endpoints.Budgets, info.BillingAccountName)

	var budgets struct {
		Budgets []struct {
			DisplayName string `json:"displayName"`
			Amount      struct {
				SpecifiedAmount *struct {
					Units string `json:"units"`
					Nanos int64  `json:"nanos"`
				} `json:"specifiedAmount"`
				LastPeriodAmount *struct{} `json:"lastPeriodAmount"`
			} `json:"amount"`
			CurrentSpend *struct {
				Units string `json:"units"`
				Nanos int64  `json:"nanos"`
			} `json:"currentSpend"`
		} `json:"budgets"`
	}
	if err := t.getJSON(ctx, budgetsURL, &budgets); err != nil {
		return fmt.Sprintf("Error fetching cost data: %v", err)
	}

	lines := []string{"Billing account: " + info.BillingAccountName}
	if len(budgets.Budgets) == 0 {
		lines = append(lines, "", "No budgets configured. Set up a budget in the console to track spend.")
		return strings.Join(lines, "\n")
	}

	lines = append(lines, "", "Budgets & current spend:")
	for _, b := range budgets.Budgets {
		name := b.DisplayName
		if name == "" {
			name = "Unnamed budget"
		}
		spend := "unknown"
		if b.CurrentSpend != nil {
			spend = formatMoney(b.CurrentSpend.Units, b.CurrentSpend.Nanos)
		}
		budget := "unknown"
		switch {
		case b.Amount.SpecifiedAmount != nil:
			budget = formatMoney(b.Amount.SpecifiedAmount.Units, 0)
		case b.Amount.LastPeriodAmount != nil:
			budget = "last period amount"
		}
		lines = append(lines, fmt.Sprintf("• %s: %s spent of %s budget", name, spend, budget))
	}
	return strings.Join(lines, "\n")
}

// ListPubSubTopics lists Pub/Sub topics in the project.
func (t *GCPToolset) ListPubSubTopics(ctx context.Context) string {
	url := fmt.Sprintf("%s/v1/projects/%s/topics", t.endpoints.PubSub, t.project)

	var data struct {
		Topics []struct {
			Name string `json:"name"`
		} `json:"topics"`
	}
	if err := t.getJSON(ctx, url, &data); err != nil {
		return fmt.Sprintf("Error listing Pub/Sub topics: %v", err)
	}
	if len(data.Topics) == 0 {
		return "No Pub/Sub topics found."
	}

	lines := make([]string, 0, len(data.Topics))
	for _, topic := range data.Topics {
		lines = append(lines, "• "+lastSegment(topic.Name))
	}
	return strings.Join(lines, "\n")
}

// formatMoney renders a google.type.Money units/nanos pair as dollars.
func formatMoney(units string, nanos int64) string {
	var whole float64
	_, _ = fmt.Sscanf(units, "%f", &whole)
	return fmt.Sprintf("$%.2f", whole+float64(nanos)/1e9)
}

func lastSegment(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
