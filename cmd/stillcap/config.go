package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stillcap/stillcap"
	"github.com/stillcap/stillcap/tuning"
)

// tuningConfig is the YAML shape of the tuner and target tables.
type tuningConfig struct {
	Targets []targetEntry `yaml:"targets"`
	Tuners  []tunerEntry  `yaml:"tuners"`
	Focus   focusEntry    `yaml:"focus"`
}

type targetEntry struct {
	Property string  `yaml:"property"`
	TOD      string  `yaml:"tod"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
}

type tunerEntry struct {
	Property  string `yaml:"property"`
	TOD       string `yaml:"tod"`
	Control   uint32 `yaml:"control"`
	Min       int32  `yaml:"min"`
	Max       int32  `yaml:"max"`
	Negative  bool   `yaml:"negative"`
	Encourage bool   `yaml:"encourage"`
}

type focusEntry struct {
	Auto   uint32 `yaml:"auto"`
	Manual uint32 `yaml:"manual"`
}

func loadTuningConfig(path string) (*tuningConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning config: %w", err)
	}
	var cfg tuningConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tuning config: %w", err)
	}
	return &cfg, nil
}

func parseProperty(name string) (tuning.Property, error) {
	switch strings.ToLower(name) {
	case "brightness":
		return tuning.Brightness, nil
	case "contrast":
		return tuning.Contrast, nil
	case "saturation":
		return tuning.Saturation, nil
	}
	return 0, fmt.Errorf("unknown property %q", name)
}

func parseTOD(name string) (tuning.TimeOfDay, error) {
	switch strings.ToLower(name) {
	case "day", "":
		return tuning.Day, nil
	case "night":
		return tuning.Night, nil
	}
	return 0, fmt.Errorf("unknown time-of-day %q", name)
}

// configure loads the tables from cfg into the engine.
func (c *tuningConfig) configure(eng *stillcap.Engine) error {
	for _, t := range c.Targets {
		property, err := parseProperty(t.Property)
		if err != nil {
			return err
		}
		tod, err := parseTOD(t.TOD)
		if err != nil {
			return err
		}
		if err := eng.SetPropertyTarget(property, tod, t.Min, t.Max); err != nil {
			return err
		}
	}
	for _, t := range c.Tuners {
		property, err := parseProperty(t.Property)
		if err != nil {
			return err
		}
		tod, err := parseTOD(t.TOD)
		if err != nil {
			return err
		}
		err = eng.AddTuner(tod, tuning.Tuner{
			Property:        property,
			ControlID:       t.Control,
			RangeMin:        t.Min,
			RangeMax:        t.Max,
			NegativeEffect:  t.Negative,
			EncourageLimits: t.Encourage,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
