/*
Copyright 2024 Stefan Prodan

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

package metrics

import (
	"testing"
	"time"

	"github.com/fluxcd/pkg/ssa"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	g := NewWithT(t)

	reg := prometheus.NewRegistry()
	r := NewRecorder().MustRegister(reg)

	r.RecordReady("apps", "app", true)
	r.RecordInventory("apps", "app", 3)
	r.RecordDuration("apps", "app", ResultSuccess, time.Now().Add(-time.Second))

	cs := ssa.NewChangeSet()
	cs.Add(ssa.ChangeSetEntry{Subject: "ConfigMap/apps/a", Action: ssa.CreatedAction})
	cs.Add(ssa.ChangeSetEntry{Subject: "ConfigMap/apps/b", Action: ssa.UnchangedAction})
	cs.Add(ssa.ChangeSetEntry{Subject: "ConfigMap/apps/c", Action: ssa.DeletedAction})
	r.RecordChangeSet("apps", "app", cs)

	g.Expect(testutil.ToFloat64(r.ready.WithLabelValues("apps", "app"))).To(Equal(1.0))
	g.Expect(testutil.ToFloat64(r.inventoryEntries.WithLabelValues("apps", "app"))).To(Equal(3.0))
	g.Expect(testutil.ToFloat64(r.resourceActions.WithLabelValues("apps", "app", "created"))).To(Equal(1.0))
	g.Expect(testutil.CollectAndCount(r.resourceActions)).To(Equal(2))
	g.Expect(testutil.CollectAndCount(r.reconcileDuration)).To(Equal(1))

	r.Delete("apps", "app")
	g.Expect(testutil.CollectAndCount(r.ready)).To(BeZero())
	g.Expect(testutil.CollectAndCount(r.resourceActions)).To(BeZero())
	g.Expect(testutil.CollectAndCount(r.reconcileDuration)).To(BeZero())
}
