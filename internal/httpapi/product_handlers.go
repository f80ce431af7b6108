package httpapi

import (
	"net/http"

	"entadmin.org/internal/audit"
	"entadmin.org/internal/auth"
	"entadmin.org/internal/catalog"
)

// editors gates catalog mutations.
var editors = []auth.Role{auth.RoleAdmin, auth.RoleManager}

func (a *API) guarded(h http.HandlerFunc) http.Handler {
	return a.Authenticate(RequireRole(editors...)(h))
}

func (a *API) handleProductsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listProducts(w, r)
	case http.MethodPost:
		a.guarded(a.createProduct).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.getProduct(w, r)
	case http.MethodPut:
		a.guarded(a.updateProduct).ServeHTTP(w, r)
	case http.MethodDelete:
		a.guarded(a.deleteProduct).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.products.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := a.products.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := a.products.CreateProduct(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.product.created", map[string]any{"product_id": p.ID})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := a.products.UpdateProduct(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.product.updated", map[string]any{"product_id": p.ID})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.products.DeleteProduct(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.product.deleted", map[string]any{"product_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (catalog.ProductInput, bool) {
	var in catalog.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return catalog.ProductInput{}, false
	}
	in, err := in.Normalize()
	if err != nil {
		writeServiceError(w, r, err)
		return catalog.ProductInput{}, false
	}
	return in, true
}
