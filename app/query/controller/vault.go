package controller

import (
	"net/http"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
)

func (c *Controller) HandleMegavaultHistoricalPnl(w http.ResponseWriter, r *http.Request) {
	resolution := indexer.PnlTickResolution(param(r, "resolution"))
	resp, err := c.App.Vaults.MegavaultHistoricalPnl(r.Context(), resolution)
	if err != nil {
		c.writeServiceError(w, r, "megavault historical pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) HandleVaultsHistoricalPnl(w http.ResponseWriter, r *http.Request) {
	resolution := indexer.PnlTickResolution(param(r, "resolution"))
	resp, err := c.App.Vaults.VaultsHistoricalPnl(r.Context(), resolution)
	if err != nil {
		c.writeServiceError(w, r, "vaults historical pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) HandleMegavaultPositions(w http.ResponseWriter, r *http.Request) {
	resp, err := c.App.Vaults.MegavaultPositions(r.Context())
	if err != nil {
		c.writeServiceError(w, r, "megavault positions", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
