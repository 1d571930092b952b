package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/md-rashed-zaman/planner/libs/httpx"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/paging"
)

type apiClient struct {
	http *resty.Client
}

func newClient(baseURL, caller, token string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if caller != "" {
		c.SetHeader(httpx.UserIDHeader, caller)
	}
	if token != "" {
		c.SetAuthToken(token)
	}
	return &apiClient{http: c}
}

type calendarParams struct {
	UserIDs []string
	Start   string
	End     string
	View    string
	Date    string
	Search  string
	Page    int
	Limit   int
}

type calendarPage struct {
	User         *model.User                       `json:"user"`
	TimeBlocks   paging.PageResult[model.Interval] `json:"time_blocks"`
	Availability []model.Interval                  `json:"availability"`
	Cached       bool                              `json:"cached"`
}

type apiError struct {
	Error      string           `json:"error"`
	Kind       string           `json:"kind"`
	Conflicts  []model.Interval `json:"conflicts"`
	MissingIDs []string         `json:"missing_ids"`
}

func (c *apiClient) Calendar(ctx context.Context, p calendarParams) (calendarPage, error) {
	query := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			query[key] = value
		}
	}
	set("user_ids", strings.Join(p.UserIDs, ","))
	set("start", p.Start)
	set("end", p.End)
	set("view", p.View)
	set("date", p.Date)
	set("search", p.Search)
	if p.Page > 0 {
		query["page"] = strconv.Itoa(p.Page)
	}
	if p.Limit > 0 {
		query["limit"] = strconv.Itoa(p.Limit)
	}

	var page calendarPage
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&page).
		SetError(&failure).
		Get("/api/v1/calendar")
	if err != nil {
		return calendarPage{}, fmt.Errorf("get calendar: %w", err)
	}
	if resp.IsError() {
		return calendarPage{}, describe(resp, failure)
	}
	return page, nil
}

func (c *apiClient) CreateTimeBlock(ctx context.Context, start, end, title string) (model.Interval, error) {
	var iv model.Interval
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"start_time": start, "end_time": end, "title": title}).
		SetResult(&iv).
		SetError(&failure).
		Post("/api/v1/time-blocks")
	if err != nil {
		return model.Interval{}, fmt.Errorf("create time block: %w", err)
	}
	if resp.IsError() {
		return model.Interval{}, describe(resp, failure)
	}
	return iv, nil
}

func describe(resp *resty.Response, failure apiError) error {
	msg := failure.Error
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if len(failure.Conflicts) > 0 {
		ids := make([]string, len(failure.Conflicts))
		for i, iv := range failure.Conflicts {
			ids[i] = iv.ID
		}
		msg += " (conflicts: " + strings.Join(ids, ", ") + ")"
	}
	if len(failure.MissingIDs) > 0 {
		msg += " (missing: " + strings.Join(failure.MissingIDs, ", ") + ")"
	}
	return fmt.Errorf("%s: %s", resp.Status(), msg)
}
