package pipeline

import (
	"fmt"
	"time"

	"adampoller/config"
	"adampoller/model"
)

const defaultDeviceType = "adam_6051"

// enrichTags builds the tag set for a reading: channel tags first, then the
// processor's own derived tags, then device tags prefixed with device_.
// Existing keys are never overwritten.
func enrichTags(dev config.DeviceConfig, ch config.ChannelConfig, now time.Time) map[string]model.TagValue {
	tags := make(map[string]model.TagValue, len(ch.Tags)+len(dev.Tags)+8)

	for k, v := range ch.Tags {
		tags[k] = model.StringTag(v)
	}

	setIfAbsent(tags, "data_source", model.StringTag("adam_logger"))
	setIfAbsent(tags, "channel_name", model.StringTag(ch.Name))
	if ch.Description != "" {
		setIfAbsent(tags, "channel_description", model.StringTag(ch.Description))
	}
	setIfAbsent(tags, "register_start", model.NumberTag(float64(ch.StartRegister)))
	setIfAbsent(tags, "register_count", model.NumberTag(float64(ch.RegisterCount)))
	setIfAbsent(tags, "scale_factor", model.NumberTag(ch.Scale))
	if ch.Offset != 0 {
		setIfAbsent(tags, "offset", model.NumberTag(ch.Offset))
	}
	setIfAbsent(tags, "device_type", model.StringTag(defaultDeviceType))
	setIfAbsent(tags, "timestamp_utc", model.StringTag(now.UTC().Format(time.RFC3339Nano)))

	for k, v := range dev.Tags {
		setIfAbsent(tags, fmt.Sprintf("device_%s", k), model.StringTag(v))
	}

	return tags
}

func setIfAbsent(tags map[string]model.TagValue, key string, value model.TagValue) {
	if _, exists := tags[key]; !exists {
		tags[key] = value
	}
}
