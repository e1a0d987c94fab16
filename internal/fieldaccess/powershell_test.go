package fieldaccess

import "testing"

func TestExtractPowerShellFieldsInjectsKeyValues(t *testing.T) {
	rec := recordFrom(map[string]interface{}{
		"Event": map[string]interface{}{
			"System": map[string]interface{}{
				"EventID": int64(400),
				"Channel": "Windows PowerShell",
			},
			"EventData": map[string]interface{}{
				"Data": []interface{}{
					"unused-data-1",
					"HostName=ConsoleHost\t\nHostVersion=5.1",
				},
			},
		},
	})

	ExtractPowerShellFields(rec, false)

	a := NewAccessor(nil)
	if v := a.Resolve(rec, "HostName"); v.IsMissing() || v.Scalar != "ConsoleHost" {
		t.Fatalf("expected HostName=ConsoleHost injected, got %+v", v)
	}
	if v := a.Resolve(rec, "HostVersion"); v.IsMissing() || v.Scalar != "5.1" {
		t.Fatalf("expected HostVersion=5.1 injected, got %+v", v)
	}
}

func TestExtractPowerShellFieldsDisabledFlag(t *testing.T) {
	rec := recordFrom(map[string]interface{}{
		"Event": map[string]interface{}{
			"System":    map[string]interface{}{"EventID": int64(400), "Channel": "Windows PowerShell"},
			"EventData": map[string]interface{}{"Data": []interface{}{"x", "K=V"}},
		},
	})

	ExtractPowerShellFields(rec, true)

	a := NewAccessor(nil)
	if v := a.Resolve(rec, "K"); !v.IsMissing() {
		t.Fatalf("expected no extraction when disabled, got %+v", v)
	}
}

func TestExtractPowerShellFieldsIgnoresOtherChannels(t *testing.T) {
	rec := recordFrom(map[string]interface{}{
		"Event": map[string]interface{}{
			"System":    map[string]interface{}{"EventID": int64(400), "Channel": "Security"},
			"EventData": map[string]interface{}{"Data": []interface{}{"x", "K=V"}},
		},
	})

	ExtractPowerShellFields(rec, false)

	a := NewAccessor(nil)
	if v := a.Resolve(rec, "K"); !v.IsMissing() {
		t.Fatalf("expected no extraction outside Windows PowerShell channel")
	}
}

func TestExtractPowerShellFieldsEvent800UsesDataOne(t *testing.T) {
	rec := recordFrom(map[string]interface{}{
		"Event": map[string]interface{}{
			"System": map[string]interface{}{"EventID": int64(800), "Channel": "Windows PowerShell"},
			"EventData": map[string]interface{}{
				"Data": []interface{}{"PipelineId=1\t\nCommandLine=Get-Process"},
			},
		},
	})

	ExtractPowerShellFields(rec, false)

	a := NewAccessor(nil)
	if v := a.Resolve(rec, "CommandLine"); v.IsMissing() || v.Scalar != "Get-Process" {
		t.Fatalf("expected CommandLine injected from Data[1], got %+v", v)
	}
}
