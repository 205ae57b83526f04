package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndDropsDuplicates(t *testing.T) {
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry := NewRegistry(jobA, nil)

	assert.True(t, registry.Register(jobB))
	assert.False(t, registry.Register(&stubJob{name: "a"}))
	assert.False(t, registry.Register(nil))

	jobs := registry.Jobs()
	assert.Equal(t, []Job{jobA, jobB}, jobs)

	jobs[0] = nil
	assert.Equal(t, jobA, registry.Jobs()[0])
}
