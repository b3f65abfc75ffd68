package mcp_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

type mockResourceListWatcher struct {
	lock        sync.Mutex
	updateCount int
}

type mockElicitationHandler struct {
	lock   sync.Mutex
	params mcp.ElicitParams
	result mcp.ElicitResult
}

type mockProgressListener struct {
	lock   sync.Mutex
	params []mcp.ProgressParams
}

type mockLogReceiver struct {
	lock   sync.Mutex
	params []mcp.LogParams
}

func (m *mockResourceListWatcher) OnResourceListChanged() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.updateCount++
}

func (m *mockResourceListWatcher) count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.updateCount
}

func (m *mockElicitationHandler) Elicit(_ context.Context, params mcp.ElicitParams) (mcp.ElicitResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.params = params
	return m.result, nil
}

func (m *mockProgressListener) OnProgress(params mcp.ProgressParams) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.params = append(m.params, params)
}

func (m *mockProgressListener) received() []mcp.ProgressParams {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]mcp.ProgressParams(nil), m.params...)
}

func (m *mockLogReceiver) OnLog(params mcp.LogParams) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.params = append(m.params, params)
}

// texts returns the string payloads of the received log notifications.
func (m *mockLogReceiver) texts() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	texts := make([]string, 0, len(m.params))
	for _, p := range m.params {
		var s string
		if err := json.Unmarshal(p.Data, &s); err != nil {
			s = string(p.Data)
		}
		texts = append(texts, s)
	}
	return texts
}
