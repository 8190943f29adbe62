package core

import "testing"

func TestPlanClone_Independent(t *testing.T) {
	p := &Plan{
		Actions: []ActionSpec{
			{Name: "allocate_port", Params: map[string]string{"range": "default"}, Compensate: "release_port"},
			{Name: "provision_fs"},
		},
		RollbackOnFatal: true,
	}

	c := p.Clone()
	c.Actions[0].Params["range"] = "edited"
	c.Actions[1].Name = "edited"

	if p.Actions[0].Params["range"] != "default" {
		t.Error("clone shares params map with original")
	}
	if p.Actions[1].Name != "provision_fs" {
		t.Error("clone shares action slice with original")
	}
}

func TestPlanDocument_RoundTrip(t *testing.T) {
	p := &Plan{
		Actions: []ActionSpec{
			{Name: "init_database", Params: map[string]string{"owner": "dev"}, Fatal: true, Compensate: "drop_database", TimeoutSeconds: 60},
		},
		RollbackOnFatal: true,
	}

	doc, err := p.MarshalDocument()
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}
	got, err := PlanFromDocument(doc)
	if err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	if len(got.Actions) != 1 || !got.RollbackOnFatal {
		t.Fatalf("lost plan shape: %+v", got)
	}
	a := got.Actions[0]
	if a.Name != "init_database" || a.Params["owner"] != "dev" || !a.Fatal || a.Compensate != "drop_database" || a.TimeoutSeconds != 60 {
		t.Fatalf("lost action fields: %+v", a)
	}
}
