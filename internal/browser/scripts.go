package browser

// Page-side snippets. Each is evaluated as a function; element snippets run
// with `this` bound to the element.

// observeJS installs (or replaces) the mutation observer for one binding.
// Only batches that add a compose signature match are forwarded, which keeps
// traffic over the debugger connection low on busy pages.
const observeJS = `(binding, signature) => {
	const key = '__mailreplyObserver_' + binding;
	if (window[key]) window[key].disconnect();
	const obs = new MutationObserver((mutations) => {
		const added = [];
		for (const m of mutations) {
			m.addedNodes.forEach((node) => {
				const el = node.nodeType === Node.ELEMENT_NODE;
				let matches = false, contains = false;
				if (el) {
					try {
						matches = node.matches(signature);
						contains = !!node.querySelector(signature);
					} catch (e) {}
				}
				added.push({ element: el, matches, contains });
			});
		}
		if (added.some((a) => a.matches || a.contains) && typeof window[binding] === 'function') {
			window[binding]({ added });
		}
	});
	obs.observe(document.body || document.documentElement, { childList: true, subtree: true });
	window[key] = obs;
	return true;
}`

const disconnectJS = `(binding) => {
	const key = '__mailreplyObserver_' + binding;
	if (window[key]) { window[key].disconnect(); delete window[key]; }
	return true;
}`

// prependJS builds an element from an ElementSpec and inserts it first.
const prependJS = `function (spec, binding, disabledAttr) {
	const el = document.createElement(spec.tag || 'div');
	(spec.classes || []).forEach((c) => el.classList.add(c));
	Object.entries(spec.attrs || {}).forEach(([k, v]) => el.setAttribute(k, v));
	Object.entries(spec.style || {}).forEach(([k, v]) => el.style.setProperty(k, v));
	el.textContent = spec.text || '';
	const disabled = () => el.getAttribute(disabledAttr) === 'true';
	const hover = spec.hover || {};
	if (Object.keys(hover).length) {
		el.addEventListener('mouseenter', () => {
			if (disabled()) return;
			Object.entries(hover).forEach(([k, v]) => el.style.setProperty(k, v));
		});
		el.addEventListener('mouseleave', () => {
			if (disabled()) return;
			Object.keys(hover).forEach((k) => el.style.setProperty(k, (spec.style || {})[k] || ''));
		});
	}
	const act = spec.activate;
	if (act) {
		el.addEventListener('click', (ev) => {
			ev.preventDefault();
			ev.stopPropagation();
			if (disabled()) return;
			if (act.text) el.textContent = act.text;
			Object.entries(act.attrs || {}).forEach(([k, v]) => el.setAttribute(k, v));
			if (typeof window[binding] === 'function') window[binding](act.id);
		});
	}
	this.insertBefore(el, this.firstChild);
	return true;
}`

const removeAllJS = `(selector) => {
	const els = document.querySelectorAll(selector);
	els.forEach((el) => el.remove());
	return els.length;
}`

const innerTextJS = `function () { return this.innerText || this.textContent || ''; }`

const setTextJS = `function (text) { this.textContent = text; return true; }`

const setAttrJS = `function (name, value) { this.setAttribute(name, value); return true; }`

const setStyleJS = `function (property, value) { this.style.setProperty(property, value); return true; }`

const focusJS = `function () { this.focus(); return true; }`

// alertJS defers the alert so the evaluation returns before the dialog
// blocks the page.
const alertJS = `(message) => { setTimeout(() => alert(message), 0); return true; }`
