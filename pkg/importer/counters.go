package importer

import (
	"sort"
	"strconv"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/model"
)

// processCounterEvent adds one sample per series; the first event for a
// counter defines its series from the args keys
func (imp *Importer) processCounterEvent(event *events.TraceEvent) {
	process := imp.model.GetOrCreateProcess(event.Pid())

	name := event.Name
	if id, hasID := event.IDKey(); hasID {
		name = event.Name + "[" + id + "]"
	}
	counter := process.GetOrCreateCounter(event.Categories, name)

	args := event.ArgsMap()
	if counter.NumSeries() == 0 {
		if len(args) == 0 {
			imp.warnf(WarningCounterParse, "first event for counter %q has no values", name)
			process.RemoveCounter(counter)
			return
		}
		seriesNames := make([]string, 0, len(args))
		for seriesName := range args {
			seriesNames = append(seriesNames, seriesName)
		}
		sort.Strings(seriesNames)
		for _, seriesName := range seriesNames {
			colorID := model.ColorIDForString(counter.Name() + "." + seriesName)
			if event.ColorName != "" {
				colorID = model.ColorIDForReservedName(event.ColorName)
			}
			counter.AddSeries(model.NewCounterSeries(seriesName, colorID))
		}
	}

	ts := toMs(event.Timestamp)
	for _, series := range counter.Series() {
		series.AddCounterSample(ts, counterValue(args[series.Name()]))
	}
}

// counterValue coerces an args value to a number, defaulting missing or
// non-numeric values to 0
func counterValue(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case bool:
		if value {
			return 1
		}
		return 0
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
