package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Zerofisher/haestore/pkg/ingest"
	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
)

type listMessagesInput struct {
	Host     string `query:"host" doc:"Host pattern: *, *.suffix or a substring"`
	Comment  string `query:"comment" doc:"Substring of the record comment"`
	Rule     string `query:"rule" doc:"Rule name, used together with value"`
	Value    string `query:"value" doc:"Exact extracted value for rule"`
	Page     int    `query:"page" default:"1" minimum:"1" doc:"1-based page, clamped to the last page"`
	PageSize int    `query:"page_size" default:"100" doc:"One of 50, 100, 200, 500, 1000"`
}

type listMessagesOutput struct {
	Body struct {
		Records    []model.MessageMetadata `json:"records"`
		Pagination query.Pagination        `json:"pagination"`
		Label      string                  `json:"label"`
	}
}

type messageDetail struct {
	ID       string             `json:"id"`
	Endpoint model.Endpoint     `json:"endpoint"`
	Request  []byte             `json:"request" doc:"Base64 request bytes"`
	Response []byte             `json:"response" doc:"Base64 response bytes"`
	Matches  []model.MatchEntry `json:"matches"`
}

type messageOutput struct {
	Body messageDetail
}

type deletedOutput struct {
	Body struct {
		Deleted int `json:"deleted"`
	}
}

type recordOutput struct {
	Body struct {
		Outcome string `json:"outcome"`
		ID      string `json:"id,omitempty"`
		Comment string `json:"comment,omitempty"`
		Color   string `json:"color,omitempty"`
	}
}

func (s *server) registerMessageHandlers(api huma.API) {
	huma.Register(api, huma.Operation{OperationID: "list-messages", Method: http.MethodGet, Path: "/api/messages", Summary: "List one page of messages", Tags: []string{"Messages"}},
		func(ctx context.Context, input *listMessagesInput) (*listMessagesOutput, error) {
			if !query.ValidPageSize(input.PageSize) {
				return nil, mapErr(query.ErrPageSize)
			}
			f := query.Filter{Host: input.Host, Comment: input.Comment, RuleName: input.Rule, RuleValue: input.Value}
			res := s.svc.QueryPage(ctx, f, input.Page, input.PageSize)

			out := &listMessagesOutput{}
			out.Body.Records = res.Records
			out.Body.Pagination = res.Pagination
			out.Body.Label = res.Pagination.String()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-message", Method: http.MethodGet, Path: "/api/messages/{id}", Summary: "Get payloads and matches of one message", Tags: []string{"Messages"}},
		func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*messageOutput, error) {
			tx, ok := s.svc.LoadByID(ctx, input.ID)
			if !ok {
				return nil, huma.Error404NotFound("message not found: " + input.ID)
			}
			out := &messageOutput{}
			out.Body = messageDetail{
				ID:       input.ID,
				Endpoint: tx.Endpoint,
				Request:  tx.Request,
				Response: tx.Response,
				Matches:  s.svc.Matches(ctx, input.ID),
			}
			return out, nil
		})

	if s.rec != nil {
		huma.Register(api, huma.Operation{OperationID: "record-message", Method: http.MethodPost, Path: "/api/messages", Summary: "Record a captured transaction", Tags: []string{"Messages"}},
			func(ctx context.Context, input *struct {
				RawBody []byte
			}) (*recordOutput, error) {
				c, err := ingest.ParseCapture(input.RawBody)
				if err != nil {
					return nil, mapErr(err)
				}
				res, err := s.rec.Record(ctx, c)
				if err != nil {
					return nil, mapErr(err)
				}
				out := &recordOutput{}
				out.Body.Outcome = res.Outcome.String()
				out.Body.ID = res.ID
				out.Body.Comment = res.Comment
				out.Body.Color = res.Color
				return out, nil
			})
	}

	huma.Register(api, huma.Operation{OperationID: "delete-messages-by-host", Method: http.MethodDelete, Path: "/api/messages", Summary: "Delete messages whose host matches a pattern", Tags: []string{"Messages"}},
		func(ctx context.Context, input *struct {
			Host string `query:"host" required:"true" doc:"Host pattern; * deletes everything"`
		}) (*deletedOutput, error) {
			out := &deletedOutput{}
			out.Body.Deleted = s.svc.DeleteByHostPattern(ctx, input.Host)
			s.refresh()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-all-messages", Method: http.MethodDelete, Path: "/api/messages/all", Summary: "Delete every message", Tags: []string{"Messages"}},
		func(ctx context.Context, input *struct{}) (*deletedOutput, error) {
			out := &deletedOutput{}
			out.Body.Deleted = s.svc.DeleteAll(ctx)
			s.refresh()
			return out, nil
		})
}

func (s *server) registerStorageHandlers(api huma.API) {
	type storageOutput struct {
		Body struct {
			Path          string `json:"path"`
			Available     bool   `json:"available"`
			SchemaVersion int    `json:"schema_version,omitempty"`
			Count         int    `json:"count"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "get-storage", Method: http.MethodGet, Path: "/api/storage", Summary: "Describe the message history database", Tags: []string{"Storage"}},
		func(ctx context.Context, input *struct{}) (*storageOutput, error) {
			out := &storageOutput{}
			out.Body.Path = s.svc.DatabaseLocation()
			out.Body.Available = s.svc.Available()
			if v, err := s.svc.SchemaVersion(ctx); err == nil {
				out.Body.SchemaVersion = v
			}
			out.Body.Count = s.svc.CountMatching(ctx, query.Filter{})
			return out, nil
		})
}
