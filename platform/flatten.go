package platform

// Flatten returns every dependency in the tree below p, breadth first, with
// each project id listed once. The root itself is not included.
func (p *ResolvedProject) Flatten() []ResolvedVersion {
	seen := map[string]bool{p.Version.ProjectID: true}
	var out []ResolvedVersion

	level := p.Dependencies
	for len(level) > 0 {
		var next []*ResolvedProject
		for _, dep := range level {
			if dep == nil || seen[dep.Version.ProjectID] {
				continue
			}
			seen[dep.Version.ProjectID] = true
			out = append(out, dep.Version)
			next = append(next, dep.Dependencies...)
		}
		level = next
	}
	return out
}

// DependencyProjectIDs returns the project ids of Flatten.
func (p *ResolvedProject) DependencyProjectIDs() []string {
	deps := p.Flatten()
	ids := make([]string, len(deps))
	for i, d := range deps {
		ids[i] = d.ProjectID
	}
	return ids
}
