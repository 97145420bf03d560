package domain

// AccessRule binds a path pattern and method to the roles allowed to use it.
// An empty Method matches any method. A rule with no roles disables the
// resource for everyone.
type AccessRule struct {
	ID          string   `json:"id"`
	PathPattern string   `json:"path_pattern"`
	Method      string   `json:"method"`
	Roles       []string `json:"roles"`
}

// CreateResourceRequest is the body of POST /admin/resources.
type CreateResourceRequest struct {
	PathPattern string   `json:"path_pattern" binding:"required"`
	Method      string   `json:"method"`
	Roles       []string `json:"roles"`
}
