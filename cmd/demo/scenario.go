package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rxsim/rx"
)

// ScenarioObject seeds one counter object when the demo starts.
type ScenarioObject struct {
	Name       string `yaml:"name"`
	Start      int64  `yaml:"start"`
	Step       int    `yaml:"step"`
	SpawnEvery int    `yaml:"spawnEvery"`
}

// Scenario is the YAML-authored seed description for the demo driver,
// mirroring how the teacher's world config is a plain struct decoded from
// request/environment input rather than a bespoke parser.
type Scenario struct {
	TickRate int              `yaml:"tickRate"`
	Objects  []ScenarioObject `yaml:"objects"`
}

// DefaultScenario returns a small, self-contained scenario used when no
// file is supplied: three independent counters, one of which spawns a
// child object every few ticks to exercise creation events.
func DefaultScenario() Scenario {
	return Scenario{
		TickRate: 4,
		Objects: []ScenarioObject{
			{Name: "alpha", Start: 0, Step: 1, SpawnEvery: 5},
			{Name: "beta", Start: 100, Step: -1},
			{Name: "gamma", Start: 1000, Step: 10},
		},
	}
}

// LoadScenario reads and parses a scenario file from path.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("demo: read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("demo: parse scenario %s: %w", path, err)
	}
	if s.TickRate <= 0 {
		s.TickRate = 4
	}
	return s, nil
}

// Seed registers one history per scenario object, seeded at Start and
// wired to self-advance per ScenarioObject.Step / SpawnEvery, and reports
// the minted ids in scenario order so the caller can track them on a
// schedule.Driver.
func Seed(universe *rx.Universe, scenario Scenario) ([]rx.ObjectID, error) {
	ids := make([]rx.ObjectID, 0, len(scenario.Objects))
	for _, obj := range scenario.Objects {
		id := rx.NewObjectID()
		seed, err := newCounterEvent(rx.StateID{Object: id, Time: rx.SimTime(0)}, counterState{Name: obj.Name, Value: int(obj.Start)}, stepOrDefault(obj.Step), obj.SpawnEvery)
		if err != nil {
			return nil, fmt.Errorf("demo: build seed event for %q: %w", obj.Name, err)
		}
		if err := universe.AddObject(seed); err != nil {
			return nil, fmt.Errorf("demo: seed object %q: %w", obj.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func stepOrDefault(step int) int {
	if step == 0 {
		return 1
	}
	return step
}
