package main

import (
	"github.com/galdor/go-service/pkg/shttp"
)

type APIServer struct {
	Service *Service
}

func NewAPIServer(s *Service) (*APIServer, error) {
	api := APIServer{
		Service: s,
	}

	return &api, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/election", "GET", api.hElectionGET)
	api.Route("/election/rounds", "GET", api.hElectionRoundsGET)
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) hElectionGET(h *shttp.Handler) {
	h.ReplyJSON(200, api.Service.status.Data())
}

func (api *APIServer) hElectionRoundsGET(h *shttp.Handler) {
	// Only the coordinator evaluates rounds
	h.ReplyJSON(200, api.Service.status.Rounds())
}
