package script

import "sort"

var mockScripts = []CreateInput{
	{Name: "dev", Command: "npm run dev"},
	{Name: "build", Command: "npm run build"},
	{Name: "test", Command: "npm test"},
	{Name: "lint", Command: "npm run lint"},
}

// SeedMock gives a repository without scripts the default dev, build, test
// and lint entries.
func (s *Service) SeedMock(repositoryID string) []Record {
	if len(s.List(repositoryID)) > 0 {
		return nil
	}
	out := make([]Record, 0, len(mockScripts))
	for _, in := range mockScripts {
		in.RepositoryID = repositoryID
		rec, err := s.Create(in)
		if err != nil {
			s.log.Warn("seed script", "repository", repositoryID, "name", in.Name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// ImportPackageScripts creates a "<pm> run <name>" record for every
// package.json script the repository does not already have by name. It
// returns the created records in name order.
func (s *Service) ImportPackageScripts(repositoryID, packageManager string, scripts map[string]string) []Record {
	if packageManager == "" {
		packageManager = "npm"
	}
	have := make(map[string]struct{})
	for _, r := range s.List(repositoryID) {
		have[r.Name] = struct{}{}
	}
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		if _, ok := have[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := s.Create(CreateInput{
			Name:         name,
			Command:      packageManager + " run " + name,
			RepositoryID: repositoryID,
		})
		if err != nil {
			s.log.Warn("import script", "repository", repositoryID, "name", name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}
