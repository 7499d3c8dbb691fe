package dashboard

import "embed"

// Assets holds the dashboard page. The title placeholder in
// assets/index.html is substituted at serve time.
//
//go:embed assets/*
var Assets embed.FS
