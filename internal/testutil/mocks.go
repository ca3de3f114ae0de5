package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
)

// MockMetricsSource is an in-memory telemetry.MetricsSource. Series are keyed
// by resource identifier per metric kind; unset keys return empty series,
// matching the empty-on-error contract of the real sources.
type MockMetricsSource struct {
	Instances []string
	Functions []string

	EC2CPU             map[string][]telemetry.MetricDatapoint
	LambdaErrors       map[string][]telemetry.MetricDatapoint
	LambdaDuration     map[string][]telemetry.MetricDatapoint
	BedrockTokens      map[string][]telemetry.MetricDatapoint
	BedrockInvocations map[string][]telemetry.MetricDatapoint
	DynamoDBThrottles  map[string][]telemetry.MetricDatapoint

	VerifyError error
}

func NewMockMetricsSource() *MockMetricsSource {
	return &MockMetricsSource{
		EC2CPU:             make(map[string][]telemetry.MetricDatapoint),
		LambdaErrors:       make(map[string][]telemetry.MetricDatapoint),
		LambdaDuration:     make(map[string][]telemetry.MetricDatapoint),
		BedrockTokens:      make(map[string][]telemetry.MetricDatapoint),
		BedrockInvocations: make(map[string][]telemetry.MetricDatapoint),
		DynamoDBThrottles:  make(map[string][]telemetry.MetricDatapoint),
	}
}

func (m *MockMetricsSource) ListInstances(ctx context.Context) []string { return m.Instances }

func (m *MockMetricsSource) ListFunctions(ctx context.Context) []string { return m.Functions }

func (m *MockMetricsSource) GetEC2CPU(ctx context.Context, instanceID string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return m.EC2CPU[instanceID]
}

func (m *MockMetricsSource) GetLambdaErrors(ctx context.Context, functionName string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return m.LambdaErrors[functionName]
}

func (m *MockMetricsSource) GetLambdaDuration(ctx context.Context, functionName string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return m.LambdaDuration[functionName]
}

func (m *MockMetricsSource) GetBedrockInputTokens(ctx context.Context, modelID string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return m.BedrockTokens[modelID]
}

func (m *MockMetricsSource) GetBedrockInvocations(ctx context.Context, modelID string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return m.BedrockInvocations[modelID]
}

func (m *MockMetricsSource) GetDynamoDBThrottles(ctx context.Context, tableName string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return m.DynamoDBThrottles[tableName]
}

func (m *MockMetricsSource) VerifyAccess(ctx context.Context) error { return m.VerifyError }

// MockEventsSource is an in-memory telemetry.EventsSource.
type MockEventsSource struct {
	AccessDenied []telemetry.AuditEvent
	FailedCalls  []telemetry.AuditEvent
}

func NewMockEventsSource() *MockEventsSource {
	return &MockEventsSource{}
}

func (m *MockEventsSource) GetS3AccessDenied(ctx context.Context, lookbackMinutes int) []telemetry.AuditEvent {
	return m.AccessDenied
}

func (m *MockEventsSource) GetFailedAPICalls(ctx context.Context, lookbackMinutes int, service string) []telemetry.AuditEvent {
	return m.FailedCalls
}

// MockIncidentStore is an in-memory incident.Store.
type MockIncidentStore struct {
	mu        sync.Mutex
	ByScan    map[string][]*incident.Incident
	ScanOrder []string

	SaveError error
	ListError error
}

func NewMockIncidentStore() *MockIncidentStore {
	return &MockIncidentStore{ByScan: make(map[string][]*incident.Incident)}
}

func (m *MockIncidentStore) Save(ctx context.Context, scanID string, inc *incident.Incident) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ByScan[scanID]; !ok {
		m.ScanOrder = append(m.ScanOrder, scanID)
	}
	m.ByScan[scanID] = append(m.ByScan[scanID], inc)
	return nil
}

func (m *MockIncidentStore) List(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	scans := m.ScanOrder
	if filter.ScanID != "" {
		scans = []string{filter.ScanID}
	}

	var out []*incident.Incident
	for _, scanID := range scans {
		for _, inc := range m.ByScan[scanID] {
			if filter.Rule != "" && inc.Rule != filter.Rule {
				continue
			}
			if filter.Severity != "" && inc.Severity != filter.Severity {
				continue
			}
			out = append(out, inc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockIncidentStore) LatestScanID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ScanOrder) == 0 {
		return "", nil
	}
	return m.ScanOrder[len(m.ScanOrder)-1], nil
}

// MockNotifier records alert deliveries.
type MockNotifier struct {
	Sent      [][]incident.Incident
	SendError error
}

func (m *MockNotifier) Notify(ctx context.Context, incidents []incident.Incident) error {
	if m.SendError != nil {
		return m.SendError
	}
	m.Sent = append(m.Sent, incidents)
	return nil
}
