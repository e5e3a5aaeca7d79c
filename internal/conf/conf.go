// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/bluenviron/livefmp4/internal/conf/env"
	"github.com/bluenviron/livefmp4/internal/conf/yamlwrapper"
	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

var rePresentationName = regexp.MustCompile(`^[0-9a-zA-Z_\-\.]+$`)

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogStructured   bool            `json:"logStructured"`
	LogFile         string          `json:"logFile"`
	ReadTimeout     StringDuration  `json:"readTimeout"`
	WriteTimeout    StringDuration  `json:"writeTimeout"`

	// Source
	Source string `json:"source"`

	// Segmenter
	Mode                Mode           `json:"mode"`
	Name                string         `json:"name"`
	RetentionWindow     int            `json:"retentionWindow"`
	TargetDuration      StringDuration `json:"targetDuration"`
	MinFragmentDuration StringDuration `json:"minFragmentDuration"`
	SegmentMaxSize      StringSize     `json:"segmentMaxSize"`
	SegmentGrowStep     StringSize     `json:"segmentGrowStep"`

	// Store
	StoreRetention int `json:"storeRetention"`

	// Delivery server
	Delivery             bool     `json:"delivery"`
	DeliveryAddress      string   `json:"deliveryAddress"`
	DeliveryAllowOrigins []string `json:"deliveryAllowOrigins"`

	// Metrics
	Metrics        bool   `json:"metrics"`
	MetricsAddress string `json:"metricsAddress"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogStructured = false
	conf.LogFile = "livefmp4.log"
	conf.ReadTimeout = 10 * StringDuration(time.Second)
	conf.WriteTimeout = 10 * StringDuration(time.Second)

	// Source
	conf.Source = "-"

	// Segmenter
	conf.Mode = Mode(segmenter.ModeLive)
	conf.Name = "stream"
	conf.RetentionWindow = 5
	conf.TargetDuration = 2 * StringDuration(time.Second)
	conf.MinFragmentDuration = 0
	conf.SegmentMaxSize = 100 * 1024 * 1024
	conf.SegmentGrowStep = 1024 * 1024

	// Store
	conf.StoreRetention = 10

	// Delivery server
	conf.Delivery = true
	conf.DeliveryAddress = ":8890"
	conf.DeliveryAllowOrigins = []string{"*"}

	// Metrics
	conf.Metrics = false
	conf.MetricsAddress = ":9998"
}

// Load loads a Conf.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load("FRAG", conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// General

	if conf.ReadTimeout <= 0 {
		return fmt.Errorf("'readTimeout' must be greater than zero")
	}
	if conf.WriteTimeout <= 0 {
		return fmt.Errorf("'writeTimeout' must be greater than zero")
	}
	if len(conf.LogDestinations) == 0 {
		return fmt.Errorf("at least one log destination must be set")
	}

	// Source

	if conf.Source == "" {
		return fmt.Errorf("'source' must be set")
	}

	// Segmenter

	if !rePresentationName.MatchString(conf.Name) {
		return fmt.Errorf("invalid 'name': can contain only alphanumeric characters, " +
			"underscore, dot and minus")
	}
	if conf.RetentionWindow <= 0 {
		return fmt.Errorf("'retentionWindow' must be greater than zero")
	}
	if conf.TargetDuration <= 0 {
		return fmt.Errorf("'targetDuration' must be greater than zero")
	}
	if conf.MinFragmentDuration < 0 {
		return fmt.Errorf("'minFragmentDuration' can't be negative")
	}
	if conf.SegmentGrowStep == 0 {
		return fmt.Errorf("'segmentGrowStep' must be greater than zero")
	}
	if conf.SegmentMaxSize < conf.SegmentGrowStep {
		return fmt.Errorf("'segmentMaxSize' must be greater than or equal to 'segmentGrowStep'")
	}

	// Store

	if conf.StoreRetention < conf.RetentionWindow {
		return fmt.Errorf("'storeRetention' must be greater than or equal to 'retentionWindow'")
	}

	// Delivery server

	if conf.Delivery && conf.DeliveryAddress == "" {
		return fmt.Errorf("'deliveryAddress' must be set when the delivery server is enabled")
	}

	// Metrics

	if conf.Metrics && conf.MetricsAddress == "" {
		return fmt.Errorf("'metricsAddress' must be set when metrics are enabled")
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}
