package dispatch

import (
	"context"
	"encoding/json"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/workspace"
)

// registerSystemProcedures wires spec.md §6's system.* namespace to
// the C8 workspace sandbox. workspaceID is an explicit input field
// rather than derived from the caller, since a gateway deployment may
// register multiple server- and client-side workspaces (distinct
// registries per spec.md's "server vs client workspaces are distinct"
// note) and a procedure call addresses one by name.
func registerSystemProcedures(reg *Registry, ws *workspace.Manager) error {
	if err := reg.Register(Procedure{
		Name:        "system.listFiles",
		RateClass:   RateClassRead,
		InputSchema: `{"type":"object","properties":{"workspaceId":{"type":"string"},"path":{"type":"string"},"recursive":{"type":"boolean"},"includeDirectories":{"type":"boolean"}},"required":["workspaceId"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				WorkspaceID        string `json:"workspaceId"`
				Path               string `json:"path"`
				Recursive          bool   `json:"recursive"`
				IncludeDirectories bool   `json:"includeDirectories"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid listFiles input: %v", err)
			}
			entries, truncated, err := ws.ListFiles(ctx, in.WorkspaceID, in.Path, in.Recursive, in.IncludeDirectories)
			if err != nil {
				return nil, err
			}
			return map[string]any{"entries": entries, "truncated": truncated}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:        "system.readFile",
		RateClass:   RateClassRead,
		InputSchema: `{"type":"object","properties":{"workspaceId":{"type":"string"},"path":{"type":"string"},"encoding":{"type":"string","enum":["utf8","base64","binary"]}},"required":["workspaceId","path"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				WorkspaceID string `json:"workspaceId"`
				Path        string `json:"path"`
				Encoding    string `json:"encoding"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid readFile input: %v", err)
			}
			enc := workspace.Encoding(in.Encoding)
			if enc == "" {
				enc = workspace.EncodingUTF8
			}
			content, err := ws.ReadFile(ctx, in.WorkspaceID, in.Path, enc)
			if err != nil {
				return nil, err
			}
			return map[string]any{"content": content, "encoding": enc}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:        "system.writeFile",
		InputSchema: `{"type":"object","properties":{"workspaceId":{"type":"string"},"path":{"type":"string"},"content":{"type":"string"},"encoding":{"type":"string","enum":["utf8","base64","binary"]}},"required":["workspaceId","path","content"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				WorkspaceID string `json:"workspaceId"`
				Path        string `json:"path"`
				Content     string `json:"content"`
				Encoding    string `json:"encoding"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid writeFile input: %v", err)
			}
			enc := workspace.Encoding(in.Encoding)
			if enc == "" {
				enc = workspace.EncodingUTF8
			}
			if err := ws.WriteFile(ctx, in.WorkspaceID, in.Path, in.Content, enc); err != nil {
				return nil, err
			}
			return map[string]any{"written": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:        "system.pathExists",
		RateClass:   RateClassRead,
		InputSchema: `{"type":"object","properties":{"workspaceId":{"type":"string"},"path":{"type":"string"}},"required":["workspaceId","path"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				WorkspaceID string `json:"workspaceId"`
				Path        string `json:"path"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid pathExists input: %v", err)
			}
			exists, err := ws.PathExists(ctx, in.WorkspaceID, in.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"exists": exists}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(Procedure{
		Name:         "system.registerWorkspace",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		InputSchema:  `{"type":"object","properties":{"id":{"type":"string"},"root":{"type":"string"},"displayName":{"type":"string"},"readOnly":{"type":"boolean"},"allowGlobs":{"type":"array","items":{"type":"string"}},"blockGlobs":{"type":"array","items":{"type":"string"}},"allowExtensions":{"type":"array","items":{"type":"string"}},"blockExtensions":{"type":"array","items":{"type":"string"}},"maxFileSizeMb":{"type":"integer"},"followSymlinks":{"type":"boolean"}},"required":["id","root"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				ID              string   `json:"id"`
				Root            string   `json:"root"`
				DisplayName     string   `json:"displayName"`
				ReadOnly        bool     `json:"readOnly"`
				AllowGlobs      []string `json:"allowGlobs"`
				BlockGlobs      []string `json:"blockGlobs"`
				AllowExtensions []string `json:"allowExtensions"`
				BlockExtensions []string `json:"blockExtensions"`
				MaxFileSizeMB   int      `json:"maxFileSizeMb"`
				FollowSymlinks  bool     `json:"followSymlinks"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid registerWorkspace input: %v", err)
			}
			reg := workspace.Registration{
				ID:              in.ID,
				Root:            in.Root,
				DisplayName:     in.DisplayName,
				ReadOnly:        in.ReadOnly,
				AllowGlobs:      in.AllowGlobs,
				BlockGlobs:      in.BlockGlobs,
				AllowExtensions: in.AllowExtensions,
				BlockExtensions: in.BlockExtensions,
				MaxFileSizeMB:   in.MaxFileSizeMB,
				FollowSymlinks:  in.FollowSymlinks,
			}
			if err := ws.Register(ctx, reg); err != nil {
				return nil, err
			}
			return map[string]any{"registered": true}, nil
		},
	})
}
