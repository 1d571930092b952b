package storage_test

import (
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

func storetestBlock(owner string, fromHour, toHour int) model.Interval {
	day := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)
	return model.Interval{
		Kind:      model.KindTimeBlock,
		OwnerID:   owner,
		StartTime: day.Add(time.Duration(fromHour) * time.Hour),
		EndTime:   day.Add(time.Duration(toHour) * time.Hour),
	}
}
