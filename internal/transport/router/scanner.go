package router

import (
	"context"
	"errors"
	"fmt"

	"certnotify/internal/scanner"
	"certnotify/internal/storage"
	"certnotify/pkg/chatfmt"
	"certnotify/pkg/logx"
)

const helpText = `/scanner list          ... List all registered domains
/scanner show DOMAIN   ... Show a registered domain info
/scanner add DOMAIN    ... Register a domain
/scanner delete DOMAIN ... Unregister a domain
/scanner scan DOMAIN   ... Scan a registered domain
/scanner scan --all    ... Scan every registered domain`

const (
	headerHelp      = "[Scanner] Hello ! May I help you ?"
	headerList      = "[Scanner] List registered domains"
	headerShow      = "[Scanner] Show registered domains"
	headerAdd       = "[Scanner] Add registered domains"
	headerDelete    = "[Scanner] Delete registered domains"
	headerScanAll   = "[Scanner] Scan all registered domains"
	headerUnknown   = "[Scanner] Sorry... I can't understand your order. Can I help you ?"
	headerForbidden = "[Scanner] Sorry... only owners can change registered domains."
	headerBusy      = "[Scanner] Busy now, please try again later."
)

// handle answers one /scanner order. Operation failures are replies, not
// request errors; only a failed reply is.
func (r *Router) handle(ctx context.Context, req *Request) error {
	args := req.Args
	order := ""
	if len(args) > 0 {
		order = args[0]
	}

	switch {
	case order == "" || order == "help":
		return r.reply(ctx, req, headerHelp, chatfmt.Text(helpText))

	case order == "list" && len(args) == 1:
		return r.answer(ctx, req, headerList, func() (string, error) { return r.cmds.List(ctx) })

	case order == "show" && len(args) == 2:
		return r.answer(ctx, req, headerShow, func() (string, error) { return r.cmds.Show(ctx, args[1]) })

	case (order == "add" || order == "delete") && len(args) == 2:
		if !r.isOwner(req.Message.FromID) {
			req.Logger.Warn("registry change refused (not an owner)")
			return r.reply(ctx, req, headerForbidden, nil)
		}
		if order == "add" {
			return r.answer(ctx, req, headerAdd, func() (string, error) { return r.cmds.Add(ctx, args[1]) })
		}
		return r.answer(ctx, req, headerDelete, func() (string, error) { return r.cmds.Delete(ctx, args[1]) })

	case order == "scan" && len(args) == 1 && req.BoolFlags["all"]:
		if !r.isOwner(req.Message.FromID) {
			return r.reply(ctx, req, headerForbidden, nil)
		}
		return r.answer(ctx, req, headerScanAll, func() (string, error) { return r.cmds.ScanAll(ctx) })

	case order == "scan" && len(args) == 2:
		return r.scan(ctx, req, args[1])

	default:
		return r.reply(ctx, req, headerUnknown, chatfmt.Text(helpText))
	}
}

// answer posts the operation output, or its error, under header.
func (r *Router) answer(ctx context.Context, req *Request, header string, op func() (string, error)) error {
	out, err := op()
	if err != nil {
		req.Logger.Info("command failed", logx.String("header", header), logx.Err(err))
		out = err.Error()
	}
	return r.reply(ctx, req, header, &out)
}

func (r *Router) scan(ctx context.Context, req *Request, domain string) error {
	if _, err := r.cmds.Show(ctx, domain); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, scanner.ErrInvalidDomain) {
			return r.reply(ctx, req, unregisteredHint(domain), nil)
		}
		out := err.Error()
		return r.reply(ctx, req, mentionOf(req)+fmt.Sprintf("Scan '%s' failed...", domain), &out)
	}

	out, err := r.cmds.Scan(ctx, domain)
	if err != nil {
		out = err.Error()
		return r.reply(ctx, req, mentionOf(req)+fmt.Sprintf("Scan '%s' failed...", domain), &out)
	}
	return r.reply(ctx, req, mentionOf(req)+fmt.Sprintf("Scan '%s' completed !", domain), &out)
}

func unregisteredHint(domain string) string {
	return fmt.Sprintf("%s is not registered yet. Please register with '/scanner add DOMAIN'", domain)
}

func mentionOf(req *Request) string {
	if req.Message.FromUsername == "" {
		return ""
	}
	return "@" + req.Message.FromUsername + " "
}
